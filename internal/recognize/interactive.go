package recognize

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"vpsrenew/internal/logging"
	"vpsrenew/internal/phonetic"
	"vpsrenew/internal/rendezvous"
)

// InteractiveRecognizer asks a human through a rendezvous mailbox.
type InteractiveRecognizer struct {
	Mailbox rendezvous.Mailbox
	// Out receives the rendered instructions; nil disables printing.
	Out io.Writer
	// ImagePath tells the human where the challenge image is, when the
	// mailbox publishes it to a file.
	ImagePath func(id string) string
}

func (r *InteractiveRecognizer) Name() string   { return "interactive" }
func (r *InteractiveRecognizer) Tier() Tier     { return TierInteractive }
func (r *InteractiveRecognizer) FreeText() bool { return false }

// Recognize blocks until the human answers or the mailbox times out.
func (r *InteractiveRecognizer) Recognize(ctx context.Context, ch *Challenge) (*Candidate, error) {
	if r.Mailbox == nil {
		return nil, ErrBackendUnavailable
	}
	data, err := ch.OriginalPNG()
	if err != nil {
		return nil, err
	}

	imgPath := ""
	if r.ImagePath != nil {
		imgPath = r.ImagePath(ch.ID)
	}
	md := Instructions(ch.ID, imgPath, ch.HintDigits())
	if r.Out != nil {
		fmt.Fprint(r.Out, renderMarkdown(md))
	}

	logging.Rendezvous("occurrence=%s waiting for interactive answer", ch.ID)
	answer, err := r.Mailbox.Exchange(ctx, rendezvous.Request{
		ID:           ch.ID,
		Image:        data,
		Instructions: md,
		Validate:     ValidateCode,
	})
	if err != nil {
		return nil, err
	}
	return &Candidate{Backend: r.Name(), RawText: answer, Digits: phonetic.DigitsOnly(answer)}, nil
}

// ValidateCode accepts exactly CodeLength ASCII digits after trimming.
func ValidateCode(answer string) error {
	s := strings.TrimSpace(answer)
	if !phonetic.IsCode(s, CodeLength) {
		return fmt.Errorf("answer %q is not %d digits", s, CodeLength)
	}
	return nil
}

// Instructions is the markdown shown to the human.
func Instructions(id, imagePath string, hints []string) string {
	var sb strings.Builder
	sb.WriteString("# 画像認証の入力が必要です\n\n")
	fmt.Fprintf(&sb, "Occurrence: `%s`\n\n", id)
	if imagePath != "" {
		fmt.Fprintf(&sb, "画像: `%s`\n\n", imagePath)
	}
	sb.WriteString("画像にひらがなで書かれている6桁の数字を半角数字で入力してください。\n\n")
	sb.WriteString("| 読み | 数字 |\n|---|---|\n")
	rows := [][2]string{
		{"ぜろ / れい", "0"}, {"いち", "1"}, {"に", "2"}, {"さん", "3"}, {"よん / し", "4"},
		{"ご", "5"}, {"ろく", "6"}, {"なな / しち", "7"}, {"はち", "8"}, {"きゅう / く", "9"},
	}
	for _, r := range rows {
		fmt.Fprintf(&sb, "| %s | %s |\n", r[0], r[1])
	}
	if len(hints) > 0 {
		sb.WriteString("\n他の認識結果（不完全）: ")
		for i, h := range hints {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "`%s`", h)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n回答方法: `vpsrenew answer 123456`\n")
	return sb.String()
}

func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
