package panel

import (
	"strings"
	"testing"
	"time"

	"vpsrenew/internal/renewal"
)

func TestTextsFromHTML(t *testing.T) {
	page := `<html><head><script>var t = "2020-01-01 00:00";</script></head><body>
<table>
  <tr><th>プラン</th><td>無料</td></tr>
  <tr><th>利用期限</th><td><span>2025-03-01</span> <span>12:00</span>まで</td></tr>
</table></body></html>`

	texts, err := TextsFromHTML(strings.NewReader(page))
	if err != nil {
		t.Fatalf("TextsFromHTML: %v", err)
	}
	for _, s := range texts {
		if strings.Contains(s, "2020") {
			t.Errorf("script content leaked into %q", s)
		}
	}

	exp, ok := renewal.ParseExpiration(texts, time.UTC)
	if !ok {
		t.Fatalf("no expiration in %q", texts)
	}
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if !exp.Equal(want) {
		t.Errorf("expiration = %v, want %v", exp, want)
	}
}

func TestTextsFromHTMLJoinsSplitTimestamp(t *testing.T) {
	texts, err := TextsFromHTML(strings.NewReader(`<div>2025-03-<b>01</b> 12:00</div>`))
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) == 0 || texts[0] != "2025-03-01 12:00" {
		t.Errorf("texts = %q", texts)
	}
}
