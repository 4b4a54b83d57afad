package models

import "fmt"

// Proxy describes an upstream HTTP proxy used by the browser and reported
// to the challenge solver so the clearance is bound to the same exit IP.
type Proxy struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
}

// Enabled reports whether a proxy host is configured
func (p *Proxy) Enabled() bool {
	return p != nil && p.Host != ""
}

// URL renders the proxy as http://[login[:password]@]host:port
func (p *Proxy) URL() string {
	if !p.Enabled() {
		return ""
	}
	address := fmt.Sprintf("%s:%d", p.Host, p.Port)
	switch {
	case p.Login != "" && p.Password != "":
		address = fmt.Sprintf("%s:%s@%s", p.Login, p.Password, address)
	case p.Login != "":
		address = fmt.Sprintf("%s@%s", p.Login, address)
	}
	return "http://" + address
}

// Redacted renders URL with the password masked, for logs
func (p *Proxy) Redacted() string {
	if !p.Enabled() {
		return ""
	}
	masked := *p
	if masked.Password != "" {
		masked.Password = "***"
	}
	return masked.URL()
}

// ServerAddress renders host:port without credentials, as browsers expect
func (p *Proxy) ServerAddress() string {
	if !p.Enabled() {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// ChallengeTask is everything the solver needs to clear an anti-bot challenge
type ChallengeTask struct {
	WebsiteURL     string
	WebsiteKey     string
	Proxy          *Proxy
	PageHTMLBase64 string
	UserAgent      string
}
