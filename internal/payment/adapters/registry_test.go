package adapters

import (
	"testing"

	midtransadapter "github.com/smallbiznis/marketledger/internal/payment/adapters/midtrans"
	"github.com/smallbiznis/marketledger/internal/payment/adapters/stripe"
	"github.com/smallbiznis/marketledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOnlyKeepsConfiguredProviders(t *testing.T) {
	registry, err := NewRegistry(map[string]string{"midtrans": " SB-Mid-server-key "},
		midtransadapter.NewFactory(), stripe.NewFactory(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"midtrans"}, registry.Providers())

	adapter, err := registry.Adapter(" MidTrans ")
	require.NoError(t, err)
	assert.NotNil(t, adapter)

	_, err = registry.Adapter("stripe")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	var empty *Registry
	_, err = empty.Adapter("midtrans")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
