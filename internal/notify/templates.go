package notify

import (
	"sort"
	"strings"
)

// Kind 是通知的类型
type Kind string

const (
	KindNewVote            Kind = "new_vote"
	KindVoteWithdrawn      Kind = "vote_withdrawn"
	KindEventModeration    Kind = "event_moderation"
	KindEventApproved      Kind = "event_approved"
	KindEventRejected      Kind = "event_rejected"
	KindEventReminder      Kind = "event_reminder"
	KindExpertRequest      Kind = "expert_request"
	KindExpertApproved     Kind = "expert_approved"
	KindExpertRejected     Kind = "expert_rejected"
	KindSubscriptionActive Kind = "subscription_active"
	KindSubscriptionEnded  Kind = "subscription_ended"
)

// Params 是模板中 {name} 占位符的取值
type Params map[string]string

// 发给用户的文案
var templates = map[Kind]string{
	KindNewVote:            "Новый голос «{vote}» от {voter}. Ваш рейтинг: {net}.",
	KindVoteWithdrawn:      "{voter} отозвал(а) свой голос.",
	KindEventModeration:    "Новое мероприятие на модерации: «{event}» (промо-слово {promo}, начало {start}).",
	KindEventApproved:      "Ваше мероприятие «{event}» одобрено. Промо-слово: {promo}.",
	KindEventRejected:      "Ваше мероприятие «{event}» отклонено. Причина: {reason}",
	KindEventReminder:      "Напоминание: мероприятие «{event}» начнётся в {start}. Промо-слово: {promo}.",
	KindExpertRequest:      "Новая заявка эксперта: {name} ({region}).",
	KindExpertApproved:     "Поздравляем! Ваша заявка эксперта одобрена.",
	KindExpertRejected:     "Ваша заявка эксперта отклонена. Причина: {reason}",
	KindSubscriptionActive: "Подписка активна. Тариф: {tariff}.",
	KindSubscriptionEnded:  "Подписка завершена. Доступен тариф «{tariff}».",
}

// Render 用参数填充模板；未知类型返回空字符串
func Render(kind Kind, params Params) string {
	tpl, ok := templates[kind]
	if !ok {
		return ""
	}
	if len(params) == 0 {
		return tpl
	}

	// 按键排序以保证替换顺序稳定
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", params[k])
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
