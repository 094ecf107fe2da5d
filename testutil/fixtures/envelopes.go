package fixtures

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// Envelope returns a CREATED envelope requiring caps, built at Epoch.
func Envelope(id string, priority types.Priority, caps ...string) types.Envelope {
	env, err := types.NewEnvelope(types.EnvelopeSpec{
		ID:                   id,
		TenantID:             DefaultTenant,
		RequiredCapabilities: caps,
		Priority:             priority,
		Payload:              []byte(fmt.Sprintf(`{"envelope":%q}`, id)),
		CreatedAt:            Epoch,
	}, Epoch)
	if err != nil {
		panic(fmt.Sprintf("fixtures: %v", err))
	}
	return env
}

// ExpiringEnvelope returns an envelope expiring ttl after Epoch.
func ExpiringEnvelope(id string, ttl time.Duration, caps ...string) types.Envelope {
	expires := Epoch.Add(ttl)
	env, err := types.NewEnvelope(types.EnvelopeSpec{
		ID:                   id,
		TenantID:             DefaultTenant,
		RequiredCapabilities: caps,
		Priority:             types.PriorityNormal,
		CreatedAt:            Epoch,
		ExpiresAt:            &expires,
	}, Epoch)
	if err != nil {
		panic(fmt.Sprintf("fixtures: %v", err))
	}
	return env
}
