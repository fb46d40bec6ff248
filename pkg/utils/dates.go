package utils

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// DayRelPath returns the "yyyy/mm/dd<ext>" path of a digest day, slash-separated.
func DayRelPath(day time.Time, ext string) string {
	day = day.UTC()
	return fmt.Sprintf("%04d/%02d/%02d%s", day.Year(), int(day.Month()), day.Day(), ext)
}

// ParseDayRelPath parses a "yyyy/mm/dd.ext" path back into the UTC day it names.
func ParseDayRelPath(rel string) (time.Time, error) {
	rel = strings.TrimPrefix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "/")
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: digest path %q is not yyyy/mm/dd", ErrParsing, rel)
	}
	dayPart := strings.TrimSuffix(parts[2], path.Ext(parts[2]))
	t, err := time.Parse("2006/01/02", parts[0]+"/"+parts[1]+"/"+dayPart)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: digest path %q: %w", ErrParsing, rel, err)
	}
	return t, nil
}

// JapaneseDate formats day as "yyyy年mm月dd日".
func JapaneseDate(day time.Time) string {
	return day.UTC().Format("2006年01月02日")
}
