// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ai

import (
	"fmt"
	"strings"
)

// PlanRequest is everything the model is told about the client
type PlanRequest struct {
	ClientName     string
	Days           int
	MealsPerDay    int
	TargetCalories int
	Goals          string
	Allergies      []string
	Restrictions   []string
	Preferences    []string
	Exclusions     []string
}

const systemPrompt = `You are a registered dietitian's assistant. You write practical, balanced meal plans.
Respond with a single JSON object and nothing else, shaped as:
{"title": string, "description": string, "days": [{"day": number, "meals": [{"name": string, "time": string, "foods": [string], "calories": number, "protein_g": number, "carbs_g": number, "fat_g": number, "notes": string}]}], "notes": string}
Never include foods the client is allergic to.`

// Normalize fills defaults and clamps the request to supported ranges
func (r *PlanRequest) Normalize() {
	if r.Days <= 0 {
		r.Days = 7
	}
	if r.Days > 14 {
		r.Days = 14
	}
	if r.MealsPerDay <= 0 {
		r.MealsPerDay = 3
	}
	if r.MealsPerDay > 6 {
		r.MealsPerDay = 6
	}
}

// BuildPrompt renders the user message for a plan request
func BuildPrompt(r PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %d-day meal plan with %d meals per day", r.Days, r.MealsPerDay)
	if r.ClientName != "" {
		fmt.Fprintf(&b, " for %s", r.ClientName)
	}
	b.WriteString(".\n")

	if r.TargetCalories > 0 {
		fmt.Fprintf(&b, "Daily calorie target: %d kcal.\n", r.TargetCalories)
	}
	if g := strings.TrimSpace(r.Goals); g != "" {
		fmt.Fprintf(&b, "Goals: %s\n", g)
	}
	writeList(&b, "Allergies (must be avoided)", r.Allergies)
	writeList(&b, "Dietary restrictions", r.Restrictions)
	writeList(&b, "Preferences", r.Preferences)
	writeList(&b, "Exclude", r.Exclusions)

	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	var clean []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			clean = append(clean, it)
		}
	}
	if len(clean) > 0 {
		fmt.Fprintf(b, "%s: %s\n", label, strings.Join(clean, ", "))
	}
}
