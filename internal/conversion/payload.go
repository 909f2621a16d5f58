package conversion

import (
	"fmt"
	"path"
	"strings"
	"time"

	"convertd/internal/dispatch"
	"convertd/internal/records"
)

// Job is the conversion queue payload.
type Job struct {
	ConversionID  string           `json:"conversionId"`
	AccountID     string           `json:"accountId"`
	FileID        string           `json:"fileId"`
	FileName      string           `json:"fileName,omitempty"`
	SourceKey     string           `json:"sourceKey"`
	SourceFormat  string           `json:"sourceFormat"`
	TargetFormat  string           `json:"targetFormat"`
	OutputKey     string           `json:"outputKey"`
	Options       *records.Options `json:"options,omitempty"`
	NotifyAddress string           `json:"notifyAddress,omitempty"`
}

func (j Job) displayName() string {
	if name := strings.TrimSpace(j.FileName); name != "" {
		return name
	}
	return path.Base(j.SourceKey)
}

func (j Job) dispatchRequest() dispatch.Request {
	req := dispatch.Request{
		SourceKey:    j.SourceKey,
		SourceFormat: j.SourceFormat,
		TargetFormat: j.TargetFormat,
		OutputKey:    j.OutputKey,
	}
	if j.Options != nil {
		req.Options = dispatch.Options{Quality: j.Options.Quality, Resolution: j.Options.Resolution}
	}
	return req
}

// OutputKey lays out users/<account>/<category>/<YYYY-MM-DD>/<id>.<format>.
func OutputKey(accountID, target string, at time.Time, id string) string {
	target = dispatch.NormalizeFormat(target)
	return fmt.Sprintf("users/%s/%s/%s/%s.%s",
		accountID, dispatch.Category(target), at.UTC().Format("2006-01-02"), id, target)
}
