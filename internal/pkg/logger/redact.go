package logger

import "strings"

// RedactEmail masks a recipient address so send logs stay PII-free while
// keeping enough shape to recognize the domain. "pat.lee@acme.com" becomes
// "pa***@acme.com"; local parts of two characters or fewer mask entirely.
func RedactEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "***@***"
	}
	local, domain := addr[:at], addr[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
