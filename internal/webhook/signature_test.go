package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerify(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"data":{"a":1},"event_type":"rate_limit_reached"}`)

	t.Run("round trip verifies", func(t *testing.T) {
		header := Sign(secret, body)
		assert.True(t, VerifySignature(secret, body, header))
	})

	t.Run("header carries the scheme prefix", func(t *testing.T) {
		header := Sign(secret, body)
		assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, header)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		header := Sign(secret, body)
		assert.False(t, VerifySignature("other-secret", body, header))
	})

	t.Run("tampered body fails", func(t *testing.T) {
		header := Sign(secret, body)
		assert.False(t, VerifySignature(secret, []byte(`{"data":{"a":2}}`), header))
	})

	t.Run("missing prefix fails", func(t *testing.T) {
		header := Sign(secret, body)
		assert.False(t, VerifySignature(secret, body, header[len("sha256="):]))
	})

	t.Run("empty header fails", func(t *testing.T) {
		assert.False(t, VerifySignature(secret, body, ""))
	})

	t.Run("deterministic for identical input", func(t *testing.T) {
		assert.Equal(t, Sign(secret, body), Sign(secret, body))
	})
}
