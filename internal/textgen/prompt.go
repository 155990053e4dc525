package textgen

import (
	"fmt"
	"strings"

	"multiverse-server/internal/models"

	"github.com/pkoukk/tiktoken-go"
)

// systemPrompt описывает персонажа и сцену для модели.
func systemPrompt(req models.BotLineRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a character in an interactive story.\n", req.CharacterName)
	if req.CharacterDescription != "" {
		fmt.Fprintf(&b, "Character description: %s\n", req.CharacterDescription)
	}
	if req.StoryContext != "" {
		fmt.Fprintf(&b, "\n%s\n", req.StoryContext)
	}
	b.WriteString("\nStay in character. Reply with one or two short sentences, no narration, no quotes.")
	return b.String()
}

// userPrompt последние реплики чата и, при наличии, реплика, на которую нужно ответить.
func userPrompt(req models.BotLineRequest) string {
	lines := req.RecentLines
	if len(lines) > contextMessageLimit {
		lines = lines[len(lines)-contextMessageLimit:]
	}
	var b strings.Builder
	if len(lines) > 0 {
		b.WriteString("Recent chat:\n")
		for _, l := range lines {
			fmt.Fprintf(&b, "%s: %s\n", l.Speaker, l.Text)
		}
	}
	if req.IsReply() {
		fmt.Fprintf(&b, "\nRespond to: %s", req.TriggeringLine)
	} else {
		b.WriteString("\nSay something natural to the group about what is happening.")
	}
	return b.String()
}

// TokenBudget обрезает историю чата до бюджета токенов, сохраняя самые свежие строки.
type TokenBudget struct {
	enc *tiktoken.Tiktoken
}

// NewTokenBudget кодировщик для модели; для неизвестной модели используется cl100k_base.
func NewTokenBudget(model string) (*TokenBudget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}
	return &TokenBudget{enc: enc}, nil
}

// Count число токенов в строке.
func (t *TokenBudget) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Trim оставляет суффикс lines, укладывающийся в maxTokens.
func (t *TokenBudget) Trim(lines []models.ChatLine, maxTokens int) []models.ChatLine {
	if maxTokens <= 0 {
		return lines
	}
	total := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		cost := t.Count(lines[i].Speaker + ": " + lines[i].Text)
		if total+cost > maxTokens {
			break
		}
		total += cost
		start = i
	}
	return lines[start:]
}
