package memory_test

import (
	"testing"

	"github.com/aussiebroadwan/sessionkit/pkg/keychain"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain/drivers/driverstest"
	"github.com/aussiebroadwan/sessionkit/pkg/keychain/drivers/memory"
)

func TestMemoryDriver(t *testing.T) {
	driverstest.Run(t, func(t *testing.T) keychain.Driver {
		return memory.New()
	})
}
