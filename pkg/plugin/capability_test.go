package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityRegistry(t *testing.T) {
	t.Run("grant and query", func(t *testing.T) {
		reg := NewCapabilityRegistry()
		reg.Grant("shop", []Capability{CapabilityContentRead, CapabilityRoutesRegister})

		assert.True(t, reg.HasCapability("shop", CapabilityContentRead))
		assert.True(t, reg.HasCapability("shop", CapabilityRoutesRegister))
		assert.False(t, reg.HasCapability("shop", CapabilityContentWrite))
		assert.False(t, reg.HasCapability("other", CapabilityContentRead))
	})

	t.Run("grant replaces the prior set", func(t *testing.T) {
		reg := NewCapabilityRegistry()
		reg.Grant("shop", []Capability{CapabilityContentRead, CapabilityMediaRead})
		reg.Grant("shop", []Capability{CapabilityContentWrite})

		assert.False(t, reg.HasCapability("shop", CapabilityContentRead))
		assert.False(t, reg.HasCapability("shop", CapabilityMediaRead))
		assert.True(t, reg.HasCapability("shop", CapabilityContentWrite))
	})

	t.Run("revoke removes everything", func(t *testing.T) {
		reg := NewCapabilityRegistry()
		reg.Grant("shop", []Capability{CapabilityContentRead, CapabilityEmailSend})
		reg.Revoke("shop")

		assert.False(t, reg.HasCapability("shop", CapabilityContentRead))
		assert.False(t, reg.HasCapability("shop", CapabilityEmailSend))
		assert.Nil(t, reg.Capabilities("shop"))
	})

	t.Run("capabilities are returned sorted", func(t *testing.T) {
		reg := NewCapabilityRegistry()
		reg.Grant("shop", []Capability{
			CapabilityRoutesRegister,
			CapabilityContentRead,
			CapabilityEmailSend,
		})

		assert.Equal(t, []Capability{
			CapabilityContentRead,
			CapabilityEmailSend,
			CapabilityRoutesRegister,
		}, reg.Capabilities("shop"))
	})

	t.Run("empty grant means no capabilities but a known plugin", func(t *testing.T) {
		reg := NewCapabilityRegistry()
		reg.Grant("bare", nil)

		assert.False(t, reg.HasCapability("bare", CapabilityContentRead))
		assert.Empty(t, reg.Capabilities("bare"))
		assert.NotNil(t, reg.Capabilities("bare"))
	})
}
