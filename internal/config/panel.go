package config

import "fmt"

// PanelConfig describes the provider control panel. Every URL and selector the
// renewal workflow touches lives here; selectors starting with "//" or
// "xpath:" are XPath, everything else is CSS.
type PanelConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ServerID string `yaml:"server_id"`

	LoginURL     string `yaml:"login_url"`
	LoggedInURL  string `yaml:"logged_in_url"` // URL prefix reached after a successful login
	DetailURL    string `yaml:"detail_url"`    // fmt pattern, %s = server id
	ConfirmPath  string `yaml:"confirm_path"`
	CompletePath string `yaml:"complete_path"`

	Selectors PanelSelectors `yaml:"selectors"`

	// Elements whose text may carry the expiration timestamp
	ExpirationHints []string `yaml:"expiration_hints"`
	// Texts that mean the challenge answer was refused
	ErrorMarkers []string `yaml:"error_markers"`
}

// PanelSelectors are the element selectors of the renewal workflow.
type PanelSelectors struct {
	UsernameField   string `yaml:"username_field"`
	PasswordField   string `yaml:"password_field"`
	LoginButton     string `yaml:"login_button"`
	LoginError      string `yaml:"login_error"`
	RenewButton     string `yaml:"renew_button"`
	ContinueButton  string `yaml:"continue_button"`
	ConfirmButton   string `yaml:"confirm_button"`
	ChallengeMarker string `yaml:"challenge_marker"`
	ChallengeImage  string `yaml:"challenge_image"`
	ChallengeInput  string `yaml:"challenge_input"`
	SubmitButton    string `yaml:"submit_button"`
	DoneButton      string `yaml:"done_button"`
}

// DefaultPanelConfig returns the XServer VPS free-plan panel layout.
func DefaultPanelConfig() PanelConfig {
	return PanelConfig{
		LoginURL:     "https://secure.xserver.ne.jp/xapanel/login/xvps/",
		LoggedInURL:  "https://secure.xserver.ne.jp/xapanel/xvps/",
		DetailURL:    "https://secure.xserver.ne.jp/xapanel/xvps/server/detail?id=%s",
		ConfirmPath:  "/xapanel/xvps/server/freevps/extend/conf",
		CompletePath: "/xapanel/xvps/server/freevps/extend/complete",
		Selectors: PanelSelectors{
			UsernameField:   "input[name='memberid']",
			PasswordField:   "input[name='user_password']",
			LoginButton:     "//input[@value='ログインする']",
			LoginError:      "//div[contains(@class, 'error-message') or contains(text(), 'IDまたはパスワードが違います')]",
			RenewButton:     "//a[contains(text(), '更新する')]",
			ContinueButton:  "//button[@formaction='/xapanel/xvps/server/freevps/extend/conf']",
			ConfirmButton:   "//button[contains(text(), '無料VPSの利用を継続する')]",
			ChallengeMarker: "//*[contains(text(), '画像認証を行ってください')]",
			ChallengeImage:  "//div[@class='form-captcha']//img",
			ChallengeInput:  "//input[@type='text'][contains(@class, 'input-captcha')] | //input[@name='captcha'] | //input[@type='text'][contains(@placeholder, '画像')]",
			SubmitButton:    "//button[contains(text(), '送信')] | //button[contains(text(), '確認')] | //input[@type='submit'] | //button[@type='submit']",
			DoneButton:      "//button[text()='OK']",
		},
		ExpirationHints: []string{
			"//td[contains(text(), '利用期限')]/following-sibling::td",
			"//th[contains(text(), '利用期限')]/following-sibling::td",
			"//div[contains(text(), '利用期限')]",
		},
		ErrorMarkers: []string{"エラー", "正しく", "間違"},
	}
}

// ServerDetailURL returns the detail page of the configured server.
func (p PanelConfig) ServerDetailURL() string {
	return fmt.Sprintf(p.DetailURL, p.ServerID)
}
