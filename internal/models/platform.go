package models

import (
	"fmt"
	"strings"
)

// PlatformType identifies a destination platform. The numeric values are
// part of the public API and stored in publish_tasks.platform_type.
type PlatformType int

const (
	PlatformXiaohongshu PlatformType = 1
	PlatformTencent     PlatformType = 2
	PlatformDouyin      PlatformType = 3
	PlatformKuaishou    PlatformType = 4
)

var platformNames = map[PlatformType]string{
	PlatformXiaohongshu: "xiaohongshu",
	PlatformTencent:     "tencent",
	PlatformDouyin:      "douyin",
	PlatformKuaishou:    "kuaishou",
}

// AllPlatforms returns every known platform in enum order.
func AllPlatforms() []PlatformType {
	return []PlatformType{PlatformXiaohongshu, PlatformTencent, PlatformDouyin, PlatformKuaishou}
}

func (p PlatformType) Valid() bool {
	_, ok := platformNames[p]
	return ok
}

func (p PlatformType) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("platform(%d)", int(p))
}

// ParsePlatform accepts either the config name ("douyin") or the numeric
// enum value ("3").
func ParsePlatform(s string) (PlatformType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range platformNames {
		if name == s || fmt.Sprintf("%d", int(p)) == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown platform %q", s)
}
