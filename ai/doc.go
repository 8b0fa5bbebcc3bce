// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package ai drafts meal plans with an OpenAI chat model.

The model is asked for a JSON object (response_format json_object) and the
answer is checked with gjson before it is decoded into
models.MealPlanContent. Plans without days or with unnamed meals are
rejected with ErrInvalidPlan, so callers can refund the credit.

Throttle keeps one dietitian from firing generations back to back.
*/
package ai
