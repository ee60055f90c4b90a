package bindpoll

import (
	"context"
	"log/slog"
	"sync"
)

// Pool はポーリングタスクの同時実行数を制限するワーカープール。
// 多数の申請が同時に承認待ちになってもゴルーチン数を抑える。
type Pool struct {
	poller *Poller
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool はPoolの新しいインスタンスを生成する。
// maxWorkersが0以下の場合はデフォルト値32を使用する。
func NewPool(poller *Poller, maxWorkers int, logger *slog.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 32
	}
	return &Pool{
		poller: poller,
		sem:    make(chan struct{}, maxWorkers),
		logger: logger,
	}
}

// Submit は申請のポーリングタスクを投入する。
// プールが満杯の場合は空きが出るかコンテキストが
// キャンセルされるまでブロックする。
func (p *Pool) Submit(ctx context.Context, requestID, phone string) {
	select {
	case <-ctx.Done():
		p.logger.Warn("ポーリングタスクの投入がキャンセルされました",
			slog.String("request_id", requestID),
		)
		return
	case p.sem <- struct{}{}:
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.poller.Poll(ctx, requestID, phone)
	}()
}

// Wait は投入済みの全タスクの完了を待つ。シャットダウン時に使用する。
func (p *Pool) Wait() {
	p.wg.Wait()
}
