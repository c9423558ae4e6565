package backend

import (
	"context"
	"strings"

	"github.com/trproxy/trproxy/pkg/models"
)

// MockExecutor returns canned records for local development.
type MockExecutor struct{}

// Execute implements Executor.
func (MockExecutor) Execute(ctx context.Context, code string, body models.Record, contKey string) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Failure(err)
	}

	var rec models.Record
	switch {
	case code == "IVCA0060":
		indxID, _ := body["indxId"].(string)
		name := "해외 지수"
		if indxID == "KG001P" {
			name = "코스피 지수"
		}
		rec = models.Record{
			"indxInfo": models.Record{
				"indxId":    indxID,
				"indxNm":    name,
				"indxVal":   "2456.78",
				"indxChg":   "+12.34",
				"indxChgRt": "+0.5%",
			},
		}
	case strings.HasPrefix(code, "K"):
		rec = models.Record{
			"items": []any{
				models.Record{"item_id": "1", "item_name": "항목1", "value": "100", "filler": ""},
				models.Record{"item_id": "2", "item_name": "항목2", "value": "200", "filler": ""},
				models.Record{"item_id": "3", "item_name": "항목3", "value": "300", "filler": ""},
			},
		}
	default:
		params := make(models.Record, len(body))
		for k, v := range body {
			if _, isSeq := v.([]any); !isSeq {
				params[k] = v
			}
		}
		rec = models.Record{
			"result":       "success",
			"requestParam": params,
		}
	}

	if contKey != "" {
		rec["TRX_HEADER"] = models.Record{"contKey": contKey + "_next"}
	}
	return rec, nil
}
