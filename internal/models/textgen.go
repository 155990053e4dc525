package models

// ChatLine строка истории чата для контекста генерации.
type ChatLine struct {
	Speaker string
	Text    string
	FromBot bool
}

// BotLineRequest входные данные для генерации реплики бота.
type BotLineRequest struct {
	CharacterName        string
	CharacterDescription string
	StoryContext         string
	RecentLines          []ChatLine
	// TriggeringLine пусто для периодической реплики.
	TriggeringLine string
}

// IsReply сообщает, что реплика отвечает на сообщение человека.
func (r BotLineRequest) IsReply() bool {
	return r.TriggeringLine != ""
}
