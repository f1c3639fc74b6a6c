package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/InduwaraSMPN/browtrix/internal/bridge"
)

const maxMessageChars = 1000

// SnapshotTool captures the rendered markup of the currently focused page.
type SnapshotTool struct {
	broker *bridge.Broker
	grace  time.Duration
}

func (t *SnapshotTool) Name() string { return "browtrix_html_snapshot" }
func (t *SnapshotTool) Description() string {
	return `Capture the rendered HTML of the currently open page.

PREREQUISITE: A page must be connected (the user has the web app open).

WHEN TO USE:
- Inspecting the page the user is currently looking at
- Verifying the result of an action the user performed
- Reading dynamic content that only exists after rendering

Parameters:
- wait_for: CSS selector to wait for before capturing (optional)
- full_page: capture the full document instead of the viewport (default: true)
- wait_timeout: seconds to wait for the selector, 1-60 (default: 10)

Returns: {html_content, url, title, timestamp, content_size}.`
}
func (t *SnapshotTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"wait_for": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector to wait for before taking the snapshot",
			},
			"full_page": map[string]interface{}{
				"type":        "boolean",
				"description": "Capture the full page instead of the visible area",
				"default":     true,
			},
			"wait_timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Seconds to wait for the selector (1-60)",
				"minimum":     1,
				"maximum":     60,
				"default":     10,
			},
		},
	}
}

func (t *SnapshotTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	waitFor := getStringArg(args, "wait_for")
	if hasArg(args, "wait_for") && strings.TrimSpace(waitFor) == "" {
		return nil, fmt.Errorf("invalid wait_for: CSS selector cannot be blank")
	}
	waitTimeout := getIntArg(args, "wait_timeout", 10)
	if waitTimeout < 1 || waitTimeout > 60 {
		return nil, fmt.Errorf("invalid wait_timeout: must be 1-60 seconds, got %d", waitTimeout)
	}

	params := map[string]interface{}{
		"full_page":    getBoolArg(args, "full_page", true),
		"wait_timeout": waitTimeout,
	}
	if waitFor != "" {
		params["wait_for"] = waitFor
	}

	timeout := time.Duration(waitTimeout)*time.Second + t.grace
	payload, err := t.broker.Dispatch(ctx, bridge.KindSnapshot, params, timeout)
	if err != nil {
		return nil, err
	}

	var result struct {
		HTMLContent string `json:"html_content"`
		URL         string `json:"url"`
		PageURL     string `json:"page_url"`
		Title       string `json:"title"`
		PageTitle   string `json:"page_title"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("malformed snapshot response: %w", err)
	}
	if result.HTMLContent == "" {
		return nil, fmt.Errorf("no HTML content received")
	}
	if result.URL == "" {
		result.URL = result.PageURL
	}
	if result.Title == "" {
		result.Title = result.PageTitle
	}

	return map[string]interface{}{
		"html_content": result.HTMLContent,
		"url":          result.URL,
		"title":        result.Title,
		"timestamp":    time.Now().UTC(),
		"content_size": len(result.HTMLContent),
	}, nil
}

// ConfirmTool shows a confirmation dialog on the page and reports the choice.
type ConfirmTool struct {
	broker *bridge.Broker
}

func (t *ConfirmTool) Name() string { return "browtrix_confirmation_alert" }
func (t *ConfirmTool) Description() string {
	return `Show a confirmation dialog on the currently open page and wait for
the user's choice.

WHEN TO USE:
- Before any action the user should explicitly approve
- Double-checking a destructive or irreversible step

Parameters:
- message: the confirmation text, max 1000 characters (required)
- title: dialog title (default: "Confirmation")
- timeout: seconds to wait for the user, 5-300 (default: 60)

Returns: {approved, button_clicked}. A dismissed dialog is approved=false,
not an error.`
}
func (t *ConfirmTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Confirmation message shown to the user (max 1000 chars)",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Dialog title",
				"default":     "Confirmation",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Seconds to wait for the user (5-300)",
				"minimum":     5,
				"maximum":     300,
				"default":     60,
			},
		},
		"required": []string{"message"},
	}
}

func (t *ConfirmTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	message := getStringArg(args, "message")
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("invalid message: required and cannot be blank")
	}
	if len(message) > maxMessageChars {
		return nil, fmt.Errorf("invalid message: exceeds %d characters (%d)", maxMessageChars, len(message))
	}
	title := getStringArg(args, "title")
	if title == "" {
		title = "Confirmation"
	}
	timeout := getIntArg(args, "timeout", 60)
	if timeout < 5 || timeout > 300 {
		return nil, fmt.Errorf("invalid timeout: must be 5-300 seconds, got %d", timeout)
	}

	params := map[string]interface{}{
		"message": message,
		"title":   title,
		"timeout": timeout,
	}
	payload, err := t.broker.Dispatch(ctx, bridge.KindConfirm, params, time.Duration(timeout)*time.Second)
	if err != nil {
		return nil, err
	}

	var result struct {
		Approved      bool   `json:"approved"`
		ButtonClicked string `json:"button_clicked"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("malformed confirmation response: %w", err)
	}
	if result.ButtonClicked == "" {
		if result.Approved {
			result.ButtonClicked = "ok"
		} else {
			result.ButtonClicked = "cancel"
		}
	}

	return map[string]interface{}{
		"approved":       result.Approved,
		"button_clicked": result.ButtonClicked,
	}, nil
}

var (
	validInputTypes  = map[string]bool{"text": true, "email": true, "password": true, "number": true}
	validValidations = map[string]bool{"any": true, "email": true, "number": true, "url": true, "regex": true}
)

// AskTool collects validated user input through a popup on the page.
type AskTool struct {
	broker *bridge.Broker
}

func (t *AskTool) Name() string { return "browtrix_question_popup" }
func (t *AskTool) Description() string {
	return `Ask the user a question through an input popup on the currently
open page and wait for their answer.

WHEN TO USE:
- Collecting a value only the user knows (names, addresses, credentials)
- Resolving ambiguity before continuing a task

Parameters:
- question: the prompt text, max 1000 characters (required)
- title: popup title (default: "Input Required")
- input_type: text | email | password | number (default: text)
- validation: any | email | number | url | regex (default: any)
- timeout: seconds to wait for the user, 5-300 (default: 60)

Returns: {value, validation_passed}.`
}
func (t *AskTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "Question shown to the user (max 1000 chars)",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Popup title",
				"default":     "Input Required",
			},
			"input_type": map[string]interface{}{
				"type":        "string",
				"description": "Input field type",
				"enum":        []string{"text", "email", "password", "number"},
				"default":     "text",
			},
			"validation": map[string]interface{}{
				"type":        "string",
				"description": "Validation rule applied to the answer",
				"enum":        []string{"any", "email", "number", "url", "regex"},
				"default":     "any",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Seconds to wait for the user (5-300)",
				"minimum":     5,
				"maximum":     300,
				"default":     60,
			},
		},
		"required": []string{"question"},
	}
}

func (t *AskTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	question := getStringArg(args, "question")
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("invalid question: required and cannot be blank")
	}
	if len(question) > maxMessageChars {
		return nil, fmt.Errorf("invalid question: exceeds %d characters (%d)", maxMessageChars, len(question))
	}
	title := getStringArg(args, "title")
	if title == "" {
		title = "Input Required"
	}
	inputType := getStringArg(args, "input_type")
	if inputType == "" {
		inputType = "text"
	}
	if !validInputTypes[inputType] {
		return nil, fmt.Errorf("invalid input_type %q: must be one of text, email, password, number", inputType)
	}
	validation := getStringArg(args, "validation")
	if validation == "" {
		validation = "any"
	}
	if !validValidations[validation] {
		return nil, fmt.Errorf("invalid validation %q: must be one of any, email, number, url, regex", validation)
	}
	timeout := getIntArg(args, "timeout", 60)
	if timeout < 5 || timeout > 300 {
		return nil, fmt.Errorf("invalid timeout: must be 5-300 seconds, got %d", timeout)
	}

	params := map[string]interface{}{
		"question":   question,
		"title":      title,
		"input_type": inputType,
		"validation": validation,
		"timeout":    timeout,
	}
	payload, err := t.broker.Dispatch(ctx, bridge.KindAsk, params, time.Duration(timeout)*time.Second)
	if err != nil {
		return nil, err
	}

	var result struct {
		Value            string `json:"value"`
		ValidationPassed *bool  `json:"validation_passed"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("malformed popup response: %w", err)
	}
	passed := true
	if result.ValidationPassed != nil {
		passed = *result.ValidationPassed
	}

	return map[string]interface{}{
		"value":             result.Value,
		"validation_passed": passed,
	}, nil
}
