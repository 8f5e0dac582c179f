package tariff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nullstream/unmutual/internal/db"
)

func TestTariff_HoldsNativeStarsAlongsideFiatPrice(t *testing.T) {
	stars := int32(150)
	tf := db.Tariff{
		Name:             "Standard",
		PriceFiatCents:   29900,
		PriceNativeStars: &stars,
	}

	assert.NotNil(t, tf.PriceNativeStars)
	assert.Equal(t, int32(150), *tf.PriceNativeStars)
	assert.Greater(t, tf.PriceFiatCents, int64(0))
}

func TestTariff_ZeroValueHasNoNativePrice(t *testing.T) {
	var tf db.Tariff
	assert.Nil(t, tf.PriceNativeStars)
	assert.False(t, tf.IsActive)
}
