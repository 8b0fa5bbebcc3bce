// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danielhkuo/nutriflow/models"
	"github.com/tidwall/gjson"
)

// ErrInvalidPlan is returned when the model output is not a usable plan
var ErrInvalidPlan = errors.New("model returned an invalid meal plan")

// GeneratedPlan is a parsed model response
type GeneratedPlan struct {
	Title       string
	Description string
	Content     models.MealPlanContent
}

// ParsePlan extracts a meal plan from model output
func ParsePlan(output string) (*GeneratedPlan, error) {
	raw := stripFences(output)
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: not JSON", ErrInvalidPlan)
	}

	days := gjson.Get(raw, "days")
	if !days.IsArray() || len(days.Array()) == 0 {
		return nil, fmt.Errorf("%w: no days", ErrInvalidPlan)
	}

	plan := &GeneratedPlan{
		Title:       strings.TrimSpace(gjson.Get(raw, "title").String()),
		Description: strings.TrimSpace(gjson.Get(raw, "description").String()),
	}
	plan.Content.Notes = gjson.Get(raw, "notes").String()

	if err := json.Unmarshal([]byte(days.Raw), &plan.Content.Days); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	for i := range plan.Content.Days {
		d := &plan.Content.Days[i]
		if d.Day == 0 {
			d.Day = i + 1
		}
		if len(d.Meals) == 0 {
			return nil, fmt.Errorf("%w: day %d has no meals", ErrInvalidPlan, d.Day)
		}
		for _, m := range d.Meals {
			if m.Name == "" {
				return nil, fmt.Errorf("%w: unnamed meal on day %d", ErrInvalidPlan, d.Day)
			}
		}
	}

	if plan.Title == "" {
		plan.Title = fmt.Sprintf("%d-day meal plan", len(plan.Content.Days))
	}
	return plan, nil
}

// stripFences removes a ```json ... ``` wrapper some models add anyway
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
