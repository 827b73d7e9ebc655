package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeadDisplayName(t *testing.T) {
	name := "Maria Torres"
	empty := ""

	lead := Lead{Phone: "51987654321", Name: &name}
	assert.Equal(t, "Maria Torres", lead.DisplayName())

	lead = Lead{Phone: "51987654321", Name: &empty}
	assert.Equal(t, "51987654321", lead.DisplayName())

	lead = Lead{Phone: "51987654321"}
	assert.Equal(t, "51987654321", lead.DisplayName())
}

func TestDefaultCampaignSettings(t *testing.T) {
	settings := DefaultCampaignSettings()

	assert.Equal(t, 8, settings["min_delay_seconds"])
	assert.Equal(t, 15, settings["max_delay_seconds"])
	assert.Equal(t, 25, settings["batch_size"])
	assert.Equal(t, 5, settings["batch_pause_minutes"])
}

func TestMergeCampaignSettings(t *testing.T) {
	account := map[string]interface{}{
		"min_delay_seconds":  20,
		"batch_size":         50,
		"timezone":           "America/Lima",
		"notification_email": "ops@example.com",
	}
	campaign := map[string]interface{}{
		"batch_size": 10,
	}

	merged := MergeCampaignSettings(account, campaign)

	// campaign wins over account, account wins over defaults
	assert.Equal(t, 10, merged["batch_size"])
	assert.Equal(t, 20, merged["min_delay_seconds"])
	assert.Equal(t, 15, merged["max_delay_seconds"])
	assert.Equal(t, 5, merged["batch_pause_minutes"])

	// non-pacing account keys stay out
	assert.NotContains(t, merged, "timezone")
	assert.NotContains(t, merged, "notification_email")
}

func TestMergeCampaignSettingsNilMaps(t *testing.T) {
	merged := MergeCampaignSettings(nil, nil)
	assert.Equal(t, DefaultCampaignSettings(), merged)
}
