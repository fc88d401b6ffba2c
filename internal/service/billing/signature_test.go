package billing

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignatureAcceptsValid(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	now := time.Now()
	header := SignPayload(payload, "whsec_test", now)

	err := VerifySignature(payload, header, "whsec_test", 5*time.Minute, now)
	assert.NoError(t, err)
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	header := SignPayload(payload, "whsec_test", now)

	err := VerifySignature([]byte(`{"id":"evt_2"}`), header, "whsec_test", 5*time.Minute, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	header := SignPayload(payload, "whsec_other", now)

	err := VerifySignature(payload, header, "whsec_test", 5*time.Minute, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	header := SignPayload(payload, "whsec_test", now.Add(-10*time.Minute))

	err := VerifySignature(payload, header, "whsec_test", 5*time.Minute, now)
	assert.ErrorIs(t, err, ErrSignatureTooOld)
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	for _, header := range []string{"", "t=", "v1=abc", "t=notanumber,v1=abc", "garbage"} {
		err := VerifySignature(payload, header, "whsec_test", 5*time.Minute, now)
		assert.Error(t, err, "header %q must be rejected", header)
	}
}

func TestVerifySignatureAcceptsAnyMatchingCandidate(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	valid := SignPayload(payload, "whsec_test", now)
	parts := strings.SplitN(valid, ",", 2)

	// A rotated-secret header carries a stale signature before the good one.
	header := fmt.Sprintf("%s,v1=deadbeef,%s", parts[0], parts[1])
	err := VerifySignature(payload, header, "whsec_test", 5*time.Minute, now)
	assert.NoError(t, err)
}
