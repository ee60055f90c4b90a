// Package notification は通知テンプレートの展開とディスパッチ機能を提供する。
package notification

import (
	"regexp"
)

// Kind は通知の種別。種別ごとにタイトル・本文・短文のテンプレートを持つ。
type Kind string

const (
	KindNewReceiptsAvailable Kind = "NEW_RECEIPTS_AVAILABLE"
	KindMonthlyStatistics    Kind = "MONTHLY_STATISTICS"
	KindReceiptsExpiringSoon Kind = "RECEIPTS_EXPIRING_SOON"
	KindBindingCompleted     Kind = "BINDING_COMPLETED"
	KindUnbindingCompleted   Kind = "UNBINDING_COMPLETED"
	KindBindingReminder      Kind = "BINDING_REMINDER"
	KindServiceUpdate        Kind = "SERVICE_UPDATE"
)

// CategoryGeneral は全通知共通のカテゴリ。
const CategoryGeneral = "GENERAL"

// Template は1種別分のテンプレート文字列。
// プレースホルダーは{name}形式で、Fillで変数マップから展開される。
type Template struct {
	Title        string
	Message      string
	ShortMessage string
}

// templates は種別ごとのテンプレート定義。本文はエンドユーザー向けのロシア語。
var templates = map[Kind]Template{
	KindNewReceiptsAvailable: {
		Title:        "Новые чеки",
		Message:      "У вас {count} новых чеков на сумму {amount} ₽. Откройте приложение, чтобы посмотреть покупки.",
		ShortMessage: "{count} новых чеков на {amount} ₽",
	},
	KindMonthlyStatistics: {
		Title:        "Статистика за {month}",
		Message:      "За {month} вы получили {count} чеков на сумму {amount} ₽.",
		ShortMessage: "Статистика за {month}: {count} чеков",
	},
	KindReceiptsExpiringSoon: {
		Title:        "Чеки скоро будут удалены",
		Message:      "Срок хранения {count} чеков истекает через {days} дн. Сохраните нужные чеки заранее.",
		ShortMessage: "{count} чеков будут удалены через {days} дн.",
	},
	KindBindingCompleted: {
		Title:        "Подключение завершено",
		Message:      "Ваш номер телефона успешно подключён. Новые чеки будут появляться автоматически.",
		ShortMessage: "Номер подключён",
	},
	KindUnbindingCompleted: {
		Title:        "Подключение отключено",
		Message:      "Получение чеков для вашего номера остановлено. Вы можете подключиться снова в любой момент.",
		ShortMessage: "Получение чеков остановлено",
	},
	KindBindingReminder: {
		Title:        "Завершите подключение",
		Message:      "Заявка на подключение ожидает вашего подтверждения. Подтвердите её в приложении оператора.",
		ShortMessage: "Подтвердите подключение",
	},
	KindServiceUpdate: {
		Title:        "Обновление сервиса",
		Message:      "{message}",
		ShortMessage: "{message}",
	},
}

// placeholderPattern は{variableName}形式のプレースホルダーにマッチする。
var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Fill はテンプレート文字列のプレースホルダーを変数マップから展開する。
// マップに存在しないプレースホルダーはそのまま残す。
func Fill(template string, variables map[string]string) string {
	if len(variables) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
}

// TemplateFor は種別のテンプレートを返す。未定義の種別はok=falseを返す。
func TemplateFor(kind Kind) (Template, bool) {
	tmpl, ok := templates[kind]
	return tmpl, ok
}

// Filled は種別のテンプレートを展開した結果。
type Filled struct {
	Title        string
	Message      string
	ShortMessage string
	Category     string
}

// FillAll は種別のタイトル・本文・短文を一括で展開する。
func FillAll(kind Kind, variables map[string]string) (Filled, bool) {
	tmpl, ok := templates[kind]
	if !ok {
		return Filled{}, false
	}
	return Filled{
		Title:        Fill(tmpl.Title, variables),
		Message:      Fill(tmpl.Message, variables),
		ShortMessage: Fill(tmpl.ShortMessage, variables),
		Category:     CategoryGeneral,
	}, true
}
