// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"encoding/json"
	"time"
)

// Meal plan status constants
const (
	MealPlanDraft     = "draft"
	MealPlanPublished = "published"
	MealPlanArchived  = "archived"
)

type MealPlan struct {
	ID             string          `json:"id"`
	DietitianID    string          `json:"dietitian_id"`
	ClientID       string          `json:"client_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	TargetCalories *int            `json:"target_calories,omitempty"`
	Content        json.RawMessage `json:"content"`
	Status         string          `json:"status"`
	AIGenerated    bool            `json:"ai_generated"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MealPlanContent is the structured body stored in meal_plans.content
type MealPlanContent struct {
	Days  []MealPlanDay `json:"days"`
	Notes string        `json:"notes,omitempty"`
}

type MealPlanDay struct {
	Day   int    `json:"day"`
	Meals []Meal `json:"meals"`
}

type Meal struct {
	Name     string   `json:"name"`
	Time     string   `json:"time,omitempty"`
	Foods    []string `json:"foods"`
	Calories int      `json:"calories,omitempty"`
	ProteinG float64  `json:"protein_g,omitempty"`
	CarbsG   float64  `json:"carbs_g,omitempty"`
	FatG     float64  `json:"fat_g,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

type MealPlanRequest struct {
	ClientID       *string          `json:"client_id"`
	Title          *string          `json:"title"`
	Description    *string          `json:"description"`
	StartDate      *string          `json:"start_date"`
	EndDate        *string          `json:"end_date"`
	TargetCalories *int             `json:"target_calories"`
	Content        *json.RawMessage `json:"content"`
}

type GenerateMealPlanRequest struct {
	ClientID       string   `json:"client_id"`
	Days           int      `json:"days"`
	TargetCalories int      `json:"target_calories"`
	MealsPerDay    int      `json:"meals_per_day"`
	Goals          string   `json:"goals"`
	Preferences    []string `json:"preferences"`
	Exclusions     []string `json:"exclusions"`
}

type GenerateMealPlanResponse struct {
	MealPlan         MealPlan `json:"meal_plan"`
	RemainingCredits int      `json:"remaining_credits"`
}
