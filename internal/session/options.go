package session

import (
	"github.com/cockpit-project/cockpit-ws-go/internal/httpchannel"
	"github.com/cockpit-project/cockpit-ws-go/internal/secret"
	"github.com/cockpit-project/cockpit-ws-go/internal/streamchannel"
)

func extraString(extra map[string]any, key string) string {
	s, _ := extra[key].(string)
	return s
}

func extraBool(extra map[string]any, key string) bool {
	b, _ := extra[key].(bool)
	return b
}

func extraInt(extra map[string]any, key string) int {
	switch v := extra[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func extraStringSlice(extra map[string]any, key string) []string {
	raw, ok := extra[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func extraStringMap(extra map[string]any, key string) map[string]string {
	raw, ok := extra[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func parseStreamOptions(extra map[string]any) streamchannel.Options {
	errorMode, _ := extra["error"].(string)
	return streamchannel.Options{
		Unix:        extraString(extra, "unix"),
		Spawn:       extraStringSlice(extra, "spawn"),
		Environ:     extraStringSlice(extra, "environ"),
		Directory:   extraString(extra, "directory"),
		PTY:         extraBool(extra, "pty"),
		MergeStderr: errorMode == "output",
		Batch:       extraInt(extra, "batch"),
		RequireUTF8: extraBool(extra, "require-utf8"),
	}
}

func parseHTTPOptions(extra map[string]any) httpchannel.Options {
	opts := httpchannel.Options{
		Host:       extraString(extra, "host"),
		Port:       extraInt(extra, "port"),
		Unix:       extraString(extra, "unix"),
		Method:     extraString(extra, "method"),
		Path:       extraString(extra, "path"),
		Headers:    extraStringMap(extra, "headers"),
		Connection: extraString(extra, "connection"),
	}
	if tlsRaw, ok := extra["tls"].(map[string]any); ok {
		opts.TLS = parseTLSOptions(tlsRaw)
	}
	return opts
}

func parseTLSOptions(raw map[string]any) *httpchannel.TLSOptions {
	opts := &httpchannel.TLSOptions{
		Certificate: parseMaterial(raw, "certificate"),
		Key:         parseMaterial(raw, "key"),
		Authority:   parseMaterial(raw, "authority"),
	}
	if v, ok := raw["validate"].(bool); ok {
		opts.Validate = &v
	}
	return opts
}

func parseMaterial(raw map[string]any, key string) *httpchannel.Material {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case string:
		return &httpchannel.Material{Data: m}
	case map[string]any:
		mat := &httpchannel.Material{}
		if data, ok := m["data"].(string); ok {
			mat.Data = data
		}
		if file, ok := m["file"].(string); ok {
			mat.File = file
		}
		return mat
	default:
		return nil
	}
}

// relayCredentials resolves an open's "host"/"user"/"password" fields
// against the connection's authenticated defaults: a bare host with no user
// of its own reuses the login credentials, the way a bridge already running
// as the logged-in user is reused across every channel that doesn't ask for
// someone else.
func (m *Manager) relayCredentials(extra map[string]any) (sessionKey, Credentials) {
	host := extraString(extra, "host")
	if host == "" {
		host = "localhost"
	}
	user := extraString(extra, "user")
	creds := m.creds
	if user != "" && user != m.creds.User {
		creds = Credentials{User: user}
		if pw := extraString(extra, "password"); pw != "" {
			creds.Password = secret.New(pw)
		}
	}
	key := sessionKey{Host: host, User: creds.User}
	return key, creds
}
