package marketdata

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

type FearGreed struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
}

type FearGreedClient struct {
	HTTP *http.Client
	URL  string
}

func (c *FearGreedClient) Fetch(ctx context.Context) (FearGreed, error) {
	var parsed struct {
		Data []struct {
			Value               string `json:"value"`
			ValueClassification string `json:"value_classification"`
		} `json:"data"`
	}
	if err := getJSON(ctx, defaultHTTP(c.HTTP), c.URL, &parsed); err != nil {
		return FearGreed{}, err
	}
	if len(parsed.Data) == 0 {
		return FearGreed{}, errors.New("fear and greed: empty data")
	}
	entry := parsed.Data[0]
	v, err := strconv.Atoi(strings.TrimSpace(entry.Value))
	if err != nil {
		v = 50
	}
	class := strings.TrimSpace(entry.ValueClassification)
	if class == "" {
		class = "Neutral"
	}
	return FearGreed{Value: v, Classification: class}, nil
}
