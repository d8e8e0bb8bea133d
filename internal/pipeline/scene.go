package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hurricanerix/tagweave/internal/settings"
	"github.com/hurricanerix/tagweave/internal/workflow"
)

// Scene JSON fields
const (
	scenePrimaryAct     = "primary_act_tag"
	scenePosture        = "female_posture_tag"
	sceneHandsGesture   = "female_hands_and_arms_gesture_tag"
	sceneMaleHandAction = "male_hand_action_tag"
	sceneFacial         = "facial_expression_tags"
	sceneDanbooru       = "danbooru_tags"
	sceneClothing       = "clothing_tags"
	sceneLocation       = "location"
	sceneOutfit         = "outfit"
	sceneDescription    = "description"
)

// SceneRequest asks for a picture from a structured scene description.
type SceneRequest struct {
	Subject  settings.Subject `json:"subject"`
	UserName string           `json:"user_name"`
	// JSON is the scene object produced by the chat model.
	JSON  string `json:"json"`
	Extra string `json:"extra"`
	Quiet bool   `json:"quiet"`

	ChatID string `json:"chat_id"`
}

// GenerateScene renders a scene description with the modular workflow.
func (p *Pipeline) GenerateScene(ctx context.Context, s settings.Settings, req SceneRequest) (Result, error) {
	chatID, err := p.targetChat(req.ChatID)
	if err != nil {
		return Result{}, err
	}

	values, description, err := p.sceneValues(s, req)
	if err != nil {
		return Result{}, err
	}

	filled, err := p.fill(s, values)
	if err != nil {
		return Result{}, err
	}

	return p.render(ctx, s, chatID, req.Subject, filled, req.JSON, description, req.Quiet)
}

// sceneValues builds the modular workflow values from req and returns them
// with the scene's description text.
func (p *Pipeline) sceneValues(s settings.Settings, req SceneRequest) (workflow.Values, string, error) {
	if !gjson.Valid(req.JSON) {
		return nil, "", fmt.Errorf("%w: not valid JSON", ErrInvalidScene)
	}
	scene := gjson.Parse(req.JSON)
	if !scene.IsObject() {
		return nil, "", fmt.Errorf("%w: expected an object", ErrInvalidScene)
	}

	override := s.Override(req.Subject)

	extra := []string{override.ExtraPositivePrompt}
	extra = append(extra, stringList(scene.Get(sceneFacial))...)
	extra = append(extra, stringList(scene.Get(sceneDanbooru))...)
	extra = append(extra, stringList(scene.Get(sceneClothing))...)
	extra = append(extra, scene.Get(sceneLocation).String())
	extraPrompt := strings.Join(extra, ",")
	if req.Extra != "" {
		extraPrompt += "," + req.Extra
	}

	description := scene.Get(sceneDescription).String()

	values := workflow.Values{
		"people_id":              workflow.String(override.PeopleID),
		"primary_act_prompt":     workflow.String(scene.Get(scenePrimaryAct).String()),
		"female_posture_prompt":  workflow.String(scene.Get(scenePosture).String()),
		"female_hand_act_prompt": workflow.String(scene.Get(sceneHandsGesture).String()),
		"male_hand_act_prompt":   workflow.String(scene.Get(sceneMaleHandAction).String()),
		"extra_prompt":           workflow.String(extraPrompt),
		"outfit_prompt":          workflow.String(scene.Get(sceneOutfit).String()),
		"description_prompt":     workflow.String(p.viewerDescription(description, req.UserName, req.Subject.Name)),
		"negative_prompt":        workflow.String(override.NegativePrompt),
		workflow.KeySeed:         workflow.SeedValue(p.gen.Seed),
	}
	return values, description, nil
}

// viewerDescription swaps names for aliases and wraps the text with a unit
// weight: "(<text>:1.0)".
func (p *Pipeline) viewerDescription(description, userName, subjectName string) string {
	if userName != "" {
		description = strings.ReplaceAll(description, userName, p.gen.ViewerAlias)
		description = strings.ReplaceAll(description, strings.ToLower(userName), p.gen.ViewerAlias)
	}
	if subjectName != "" {
		description = strings.ReplaceAll(description, subjectName, p.gen.SubjectAlias)
	}
	return "(" + description + ":1.0)"
}

// stringList returns the string items of a JSON array, or the value itself
// when it is a single non-empty scalar.
func stringList(r gjson.Result) []string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	if !r.IsArray() {
		if s := r.String(); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.String())
		return true
	})
	return out
}
