package urlguard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccepts(t *testing.T) {
	urls := []string{
		"https://api.example.com/hook",
		"http://hooks.example.org/incoming?token=abc",
		"https://example.com:443/x",
		"http://example.com:80/x",
		"https://example.com:8443/x",
		"https://8.8.8.8/hook",
		"https://172.32.0.1/hook",
		"https://192.169.1.1/hook",
		"https://11.0.0.1/hook",
		"https://[2001:db8::1]/hook",
		"HTTPS://API.EXAMPLE.COM/hook",
	}
	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			assert.NoError(t, Validate(u))
			assert.True(t, IsSafe(u))
		})
	}
}

func TestValidateRejectsPrivateIPv4Ranges(t *testing.T) {
	hosts := []string{
		"10.0.0.1", "10.255.255.255",
		"172.16.0.1", "172.20.10.5", "172.31.255.255",
		"192.168.0.1", "192.168.255.254",
		"127.0.0.1", "127.8.9.10",
		"169.254.0.1", "169.254.169.254",
		"0.0.0.0", "0.1.2.3",
	}
	for _, h := range hosts {
		for _, scheme := range []string{"http", "https"} {
			u := scheme + "://" + h + "/hook"
			t.Run(u, func(t *testing.T) {
				assert.Error(t, Validate(u))
			})
		}
	}
}

func TestValidateRejectsSchemes(t *testing.T) {
	urls := []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"gopher://example.com/",
		"javascript:alert(1)",
		"ws://example.com/socket",
		"data:text/plain,hello",
	}
	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			assert.Error(t, Validate(u))
		})
	}
}

func TestValidateRejectsHosts(t *testing.T) {
	urls := []string{
		"http://localhost/hook",
		"http://LOCALHOST:8080/hook",
		"http://localhost./hook",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://169.254.169.254/latest/meta-data",
		"http://printer.local/hook",
		"https://db.internal/hook",
		"https://app.localhost/hook",
		"http://[::1]/hook",
		"http://[::]/hook",
		"http://[::0]/hook",
		"http://[fe80::1]/hook",
		"http://[fe80::1%25eth0]/hook",
		"http://[fc00::1]/hook",
		"http://[fd12:3456:789a::1]/hook",
		"http://[::ffff:127.0.0.1]/hook",
		"http://[::ffff:10.0.0.1]/hook",
	}
	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			assert.Error(t, Validate(u))
		})
	}
}

func TestValidateRejectsLowPorts(t *testing.T) {
	for _, u := range []string{
		"http://example.com:22/hook",
		"http://example.com:25/hook",
		"https://example.com:1023/hook",
		"http://example.com:0/hook",
	} {
		assert.Error(t, Validate(u), u)
	}
	assert.NoError(t, Validate("http://example.com:1024/hook"))
}

func TestValidateRejectsMalformed(t *testing.T) {
	for _, u := range []string{
		"",
		"not a url",
		"/relative/path",
		"example.com/hook",
		"http://",
		"http://exa mple.com/",
		"http://example.com:99999/",
	} {
		assert.Error(t, Validate(u), u)
	}
}

func TestValidateReturnsRejectedError(t *testing.T) {
	err := Validate("http://169.254.169.254/latest/meta-data")
	require.Error(t, err)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "http://169.254.169.254/latest/meta-data", rejected.URL)
	assert.NotEmpty(t, rejected.Reason)
}

func TestValidateIsIdempotent(t *testing.T) {
	for _, u := range []string{"https://api.example.com/hook", "http://10.1.2.3/", "ftp://x"} {
		first := Validate(u)
		second := Validate(u)
		assert.Equal(t, first == nil, second == nil, u)
		if first != nil {
			assert.Equal(t, first.Error(), second.Error())
		}
	}
}
