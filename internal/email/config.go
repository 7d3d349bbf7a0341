package email

import "fmt"

// Config holds IMAP connection settings for the OTP mailbox. It is
// embedded in the top-level runtime config under the "email" YAML key,
// matching the sub-map forwarded verbatim to the external OTP reader.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Folder   string `yaml:"folder"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// Configured reports whether the minimum IMAP connection fields are
// present. Sessions run fine without an email config; only providers
// that need OTP recovery require it.
func (c Config) Configured() bool {
	return c.Host != "" && c.Username != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 993
	}
	if c.Folder == "" {
		c.Folder = "INBOX"
	}
	if !c.UseSSL && c.Port != 143 {
		c.UseSSL = true
	}
}

// Validate checks that a configured account has everything it needs to
// connect. Call only when Configured() is true.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("email.host is required")
	}
	if c.Username == "" {
		return fmt.Errorf("email.username is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("email.port %d out of range (1-65535)", c.Port)
	}
	return nil
}
