package mqtt

import "errors"

// splitHostPort splits "host:port" at the last colon.
func splitHostPort(addr string) (host, port string, err error) {
	i := len(addr) - 1
	for ; i >= 0 && addr[i] != ':'; i-- {
	}
	if i < 0 {
		return "", "", errors.New("missing port in address")
	}
	host, port = addr[:i], addr[i+1:]
	if host == "" {
		return "", "", errors.New("empty host")
	}
	if port == "" {
		return "", "", errors.New("empty port")
	}
	return host, port, nil
}

// parsePort returns 0 for anything that is not a decimal port number.
func parsePort(s string) uint16 {
	var port uint32
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		port = port*10 + uint32(s[i]-'0')
		if port > 0xFFFF {
			return 0
		}
	}
	return uint16(port)
}
