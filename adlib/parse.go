package adlib

import (
	"log/slog"
	"time"
)

// rawAd mirrors one entry of the ads endpoint's results array. Only the
// fields the parser reads are declared.
type rawAd struct {
	AdArchiveID string `json:"ad_archive_id"`
	StartDate   *int64 `json:"start_date"`
	EndDate     *int64 `json:"end_date"`
	Snapshot    struct {
		DisplayFormat string `json:"display_format"`
		Body          struct {
			Text string `json:"text"`
		} `json:"body"`
		Images []struct {
			ResizedImageURL string `json:"resized_image_url"`
		} `json:"images"`
		Videos []struct {
			VideoSDURL string `json:"video_sd_url"`
		} `json:"videos"`
		Cards []struct {
			ResizedImageURL string `json:"resized_image_url"`
			Body            string `json:"body"`
		} `json:"cards"`
	} `json:"snapshot"`
}

// parseAds normalizes raw API entries into Ads. Unsupported display formats
// and entries missing media or body are dropped; a DCO entry fans out into
// one Ad per card.
func parseAds(results []rawAd, logger *slog.Logger) []Ad {
	var ads []Ad
	for _, raw := range results {
		if raw.AdArchiveID == "" {
			continue
		}

		var start, end *time.Time
		if raw.StartDate != nil {
			t := time.Unix(*raw.StartDate, 0).UTC()
			start = &t
		}
		if raw.EndDate != nil {
			t := time.Unix(*raw.EndDate, 0).UTC()
			end = &t
		}

		snap := raw.Snapshot
		base := Ad{
			AdID:          raw.AdArchiveID,
			StartDate:     start,
			EndDate:       end,
			Body:          snap.Body.Text,
			DisplayFormat: snap.DisplayFormat,
		}

		switch snap.DisplayFormat {
		case "IMAGE":
			if len(snap.Images) == 0 || snap.Images[0].ResizedImageURL == "" || base.Body == "" {
				continue
			}
			base.MediaURL = snap.Images[0].ResizedImageURL
			base.MediaType = "image"
			ads = append(ads, base)

		case "VIDEO":
			if len(snap.Videos) == 0 || snap.Videos[0].VideoSDURL == "" || base.Body == "" {
				continue
			}
			base.MediaURL = snap.Videos[0].VideoSDURL
			base.MediaType = "video"
			ads = append(ads, base)

		case "DCO":
			// Dynamic creatives carry one image and body per card.
			for _, card := range snap.Cards {
				if card.ResizedImageURL == "" || card.Body == "" {
					continue
				}
				ad := base
				ad.MediaURL = card.ResizedImageURL
				ad.Body = card.Body
				ad.MediaType = "image"
				ads = append(ads, ad)
			}

		default:
			logger.Debug("skipping unsupported display format",
				"ad_id", raw.AdArchiveID, "display_format", snap.DisplayFormat)
		}
	}
	return ads
}
