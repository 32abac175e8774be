package smtp

import "bouncer/internal/model"

// NewSender picks the delivery path for the given relay settings:
// a session client when a relay host is configured, the platform
// sendmail fallback otherwise.
func NewSender(st model.SMTPRelaySettings, localName, sendmailPath string) Sender {
	if !st.Configured() {
		return &SendmailSender{Path: sendmailPath}
	}

	port := st.Port
	if port == 0 {
		port = 587
	}
	return NewClient(Config{
		Host:      st.Host,
		Port:      port,
		Security:  st.Security,
		Username:  st.Username,
		Password:  st.Password,
		LocalName: localName,
	})
}
