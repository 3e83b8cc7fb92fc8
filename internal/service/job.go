package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
	"github.com/ifuryst/fanout/internal/service/schedule"
	"github.com/ifuryst/fanout/pkg/util"
)

var ErrInvalidJob = errors.New("invalid job")

// JobSpec is a publish job as submitted by a client.
type JobSpec struct {
	UserID       *uint               `json:"-"`
	PlatformType models.PlatformType `json:"type"`
	Files        []string            `json:"fileList"`
	Accounts     []string            `json:"accountList"`
	Title        string              `json:"title"`
	Tags         []string            `json:"tags"`
	Category     int                 `json:"category"`
	EnableTimer  Flag                `json:"enableTimer"`
	VideosPerDay int                 `json:"videosPerDay"`
	DailyTimes   SlotList            `json:"dailyTimes"`
	StartDays    int                 `json:"startDays"`
	Thumbnail    string              `json:"thumbnail"`
	ProductLink  string              `json:"productLink"`
	ProductTitle string              `json:"productTitle"`
	IsDraft      Flag                `json:"isDraft"`
}

// Flag accepts JSON booleans as well as 0/1 numbers.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch s {
	case "null", "":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}
	n, err := strconv.ParseFloat(strings.Trim(s, `"`), 64)
	if err != nil {
		return fmt.Errorf("invalid flag %s", s)
	}
	*f = n != 0
	return nil
}

// SlotList holds raw daily time slots; entries may be numbers or strings
// such as "10:00".
type SlotList []string

func (l *SlotList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// a single value is accepted as a one-slot list
		if string(data) == "null" {
			*l = nil
			return nil
		}
		raw = []json.RawMessage{data}
	}
	out := make(SlotList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			out = append(out, n.String())
		}
	}
	*l = out
	return nil
}

// Normalize validates the job and cleans it in place: duplicate files and
// accounts are dropped keeping first occurrences, paths are checked to be
// safe relative identifiers, and defaults are applied.
func (j *JobSpec) Normalize() error {
	if j == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidJob)
	}

	j.Files = util.DedupeStrings(j.Files)
	if len(j.Files) == 0 {
		return fmt.Errorf("%w: fileList is required", ErrInvalidJob)
	}
	j.Accounts = util.DedupeStrings(j.Accounts)
	if len(j.Accounts) == 0 {
		return fmt.Errorf("%w: accountList is required", ErrInvalidJob)
	}
	if !j.PlatformType.Valid() {
		return fmt.Errorf("%w: %v: %d", ErrInvalidJob, publisher.ErrUnsupportedPlatform, int(j.PlatformType))
	}

	for i, f := range j.Files {
		clean, err := util.CleanRelPath(f)
		if err != nil {
			return fmt.Errorf("%w: file %q: %v", ErrInvalidJob, f, err)
		}
		j.Files[i] = clean
	}
	for i, a := range j.Accounts {
		clean, err := util.CleanRelPath(a)
		if err != nil {
			return fmt.Errorf("%w: account %q: %v", ErrInvalidJob, a, err)
		}
		j.Accounts[i] = clean
	}
	// cleaning may fold two spellings of the same path together
	j.Files = util.DedupeStrings(j.Files)
	j.Accounts = util.DedupeStrings(j.Accounts)

	if j.VideosPerDay == 0 {
		j.VideosPerDay = 1
	}
	if j.VideosPerDay < 0 {
		return fmt.Errorf("%w: videosPerDay must be at least 1", ErrInvalidJob)
	}
	if j.StartDays < 0 {
		return fmt.Errorf("%w: startDays must not be negative", ErrInvalidJob)
	}
	if j.Category < 0 {
		j.Category = 0
	}
	if j.Thumbnail != "" {
		if _, err := util.CleanRelPath(j.Thumbnail); err != nil {
			return fmt.Errorf("%w: thumbnail %q: %v", ErrInvalidJob, j.Thumbnail, err)
		}
	}

	j.Title = strings.TrimSpace(j.Title)
	j.Tags = util.NormalizeTags(j.Tags)
	return nil
}

// Slots returns the parsed hour slots, nil when none were usable.
func (j *JobSpec) Slots() models.HourList {
	hours := schedule.ParseSlots(j.DailyTimes)
	if len(hours) == 0 {
		return nil
	}
	return models.HourList(hours)
}

// Metadata is the per-job information handed to deliverers.
func (j *JobSpec) Metadata() map[string]string {
	meta := map[string]string{
		publisher.MetaIsDraft: strconv.FormatBool(bool(j.IsDraft)),
	}
	if j.Category > 0 {
		meta[publisher.MetaCategory] = strconv.Itoa(j.Category)
	}
	if j.Thumbnail != "" {
		meta[publisher.MetaThumbnail] = j.Thumbnail
	}
	if j.ProductLink != "" {
		meta[publisher.MetaProductLink] = j.ProductLink
	}
	if j.ProductTitle != "" {
		meta[publisher.MetaProductTitle] = j.ProductTitle
	}
	return meta
}
