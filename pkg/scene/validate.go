package scene

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Issue is one validation violation, addressed by a JSON-ish path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Path + ": " + i.Message
}

// ValidationError carries every violation found in a scene document.
// Loading never partially succeeds.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "scene validation failed"
	}
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = "  " + issue.String()
	}
	return fmt.Sprintf("scene validation failed with %d issue(s):\n%s",
		len(e.Issues), strings.Join(lines, "\n"))
}

var sceneIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

type issueList struct {
	issues []Issue
}

func (l *issueList) add(path, format string, args ...any) {
	l.issues = append(l.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (l *issueList) err() error {
	if len(l.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: l.issues}
}

var (
	envelopeFields = fieldSet("schema_version", "start_scene", "generated_at", "version_id", "checksum", "lore", "scenes")
	sceneFields    = fieldSet("description", "choices", "transitions")
	choiceFields   = fieldSet("command", "description")
	transitionFields = fieldSet("narration", "target", "item", "requires", "consumes",
		"failure_narration", "records", "narration_overrides")
	overrideFields = fieldSet("narration", "requires_history_all", "requires_history_any",
		"forbids_history_any", "requires_inventory_all", "requires_inventory_any",
		"forbids_inventory_any", "records")
)

func fieldSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// checkUnknownFields reports keys of raw not present in known. In lenient
// mode the extras are returned instead of reported.
func checkUnknownFields(l *issueList, strict bool, path string, raw map[string]json.RawMessage, known map[string]struct{}) map[string]any {
	var extra map[string]any
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := known[k]; ok {
			continue
		}
		if strict {
			l.add(path+"."+k, "unknown field")
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		var v any
		_ = json.Unmarshal(raw[k], &v)
		extra[k] = v
	}
	return extra
}

// parseDocument decodes and validates a full scene document.
func parseDocument(data []byte, strict bool) (*Envelope, error) {
	l := &issueList{}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		l.add("$", "document is not a JSON object: %v", err)
		return nil, l.err()
	}

	env := &Envelope{SchemaVersion: 1}
	var sceneRaws map[string]json.RawMessage

	if rawScenes, isEnvelope := top["scenes"]; isEnvelope {
		checkUnknownFields(l, strict, "$", top, envelopeFields)
		if raw, ok := top["schema_version"]; ok {
			if err := json.Unmarshal(raw, &env.SchemaVersion); err != nil {
				l.add("$.schema_version", "must be a number: %v", err)
			} else if env.SchemaVersion != 1 && env.SchemaVersion != 2 {
				l.add("$.schema_version", "unsupported schema version %d", env.SchemaVersion)
			}
		} else {
			env.SchemaVersion = 2
		}
		decodeString(l, top, "start_scene", &env.StartScene)
		decodeString(l, top, "generated_at", &env.GeneratedAt)
		decodeString(l, top, "version_id", &env.VersionID)
		decodeString(l, top, "checksum", &env.Checksum)
		if raw, ok := top["lore"]; ok {
			if err := json.Unmarshal(raw, &env.Lore); err != nil {
				l.add("$.lore", "must be a string map: %v", err)
			}
		}
		if err := json.Unmarshal(rawScenes, &sceneRaws); err != nil {
			l.add("$.scenes", "must be an object: %v", err)
			return nil, l.err()
		}
	} else {
		// Legacy v1: flat scene-id → scene map.
		sceneRaws = top
	}

	env.Scenes = make(map[string]Scene, len(sceneRaws))
	ids := make([]string, 0, len(sceneRaws))
	for id := range sceneRaws {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		path := "$.scenes." + id
		if !sceneIDPattern.MatchString(id) {
			l.add(path, "scene id must match ^[a-z0-9_-]+$")
		}
		sc := parseScene(l, strict, path, sceneRaws[id])
		sc.ID = id
		env.Scenes[id] = sc
	}

	if len(env.Scenes) == 0 {
		l.add("$.scenes", "document defines no scenes")
	}

	validateDocument(l, env)

	if err := l.err(); err != nil {
		return nil, err
	}
	return env, nil
}

func decodeString(l *issueList, raw map[string]json.RawMessage, key string, dst *string) {
	v, ok := raw[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(v, dst); err != nil {
		l.add("$."+key, "must be a string: %v", err)
	}
}

func parseScene(l *issueList, strict bool, path string, raw json.RawMessage) Scene {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		l.add(path, "scene must be an object: %v", err)
		return Scene{}
	}

	extra := checkUnknownFields(l, strict, path, fields, sceneFields)

	var sc Scene
	sc.Extra = extra
	if err := json.Unmarshal(raw, &sc); err != nil {
		l.add(path, "malformed scene: %v", err)
		return sc
	}

	// Per-choice and per-transition unknown-field checks need the raw form.
	if rawChoices, ok := fields["choices"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawChoices, &items); err != nil {
			l.add(path+".choices", "must be an array: %v", err)
		} else {
			for i, item := range items {
				var cf map[string]json.RawMessage
				if err := json.Unmarshal(item, &cf); err != nil {
					l.add(fmt.Sprintf("%s.choices[%d]", path, i), "choice must be an object: %v", err)
					continue
				}
				checkUnknownFields(l, strict, fmt.Sprintf("%s.choices[%d]", path, i), cf, choiceFields)
			}
		}
	}
	if rawTransitions, ok := fields["transitions"]; ok {
		var tf map[string]json.RawMessage
		if err := json.Unmarshal(rawTransitions, &tf); err != nil {
			l.add(path+".transitions", "must be an object: %v", err)
		} else {
			for cmd, rawT := range tf {
				tPath := path + ".transitions." + cmd
				var tFields map[string]json.RawMessage
				if err := json.Unmarshal(rawT, &tFields); err != nil {
					l.add(tPath, "transition must be an object: %v", err)
					continue
				}
				checkUnknownFields(l, strict, tPath, tFields, transitionFields)
				if rawOverrides, ok := tFields["narration_overrides"]; ok {
					var items []json.RawMessage
					if err := json.Unmarshal(rawOverrides, &items); err != nil {
						l.add(tPath+".narration_overrides", "must be an array: %v", err)
						continue
					}
					for i, item := range items {
						var of map[string]json.RawMessage
						if err := json.Unmarshal(item, &of); err != nil {
							l.add(fmt.Sprintf("%s.narration_overrides[%d]", tPath, i), "override must be an object: %v", err)
							continue
						}
						checkUnknownFields(l, strict, fmt.Sprintf("%s.narration_overrides[%d]", tPath, i), of, overrideFields)
					}
				}
			}
		}
	}

	return sc
}

// validateDocument runs the semantic checks over the decoded document.
func validateDocument(l *issueList, env *Envelope) {
	for _, id := range sortedSceneIDs(env.Scenes) {
		sc := env.Scenes[id]
		path := "$.scenes." + id

		if sc.Description == "" {
			l.add(path+".description", "description is required")
		}

		commands := make(map[string]struct{}, len(sc.Choices))
		for i, choice := range sc.Choices {
			cPath := fmt.Sprintf("%s.choices[%d]", path, i)
			if choice.Command == "" {
				l.add(cPath+".command", "command is required")
				continue
			}
			if choice.Command != strings.ToLower(choice.Command) {
				l.add(cPath+".command", "command %q must be lowercase", choice.Command)
			}
			if choice.Description == "" {
				l.add(cPath+".description", "description is required")
			}
			if _, dup := commands[choice.Command]; dup {
				l.add(cPath+".command", "duplicate command %q within scene", choice.Command)
			}
			commands[choice.Command] = struct{}{}
		}

		for _, cmd := range sortedKeys(sc.Transitions) {
			t := sc.Transitions[cmd]
			tPath := path + ".transitions." + cmd

			if _, isChoice := commands[cmd]; !isChoice && !IsBuiltinCommand(cmd) {
				l.add(tPath, "transition command %q matches no choice and is not a built-in", cmd)
			}
			if t.Narration == "" {
				l.add(tPath+".narration", "narration is required")
			}
			if t.Target != "" {
				if _, ok := env.Scenes[t.Target]; !ok {
					l.add(tPath+".target", "target %q is not a scene in this document", t.Target)
				}
			}
			validateItemList(l, tPath+".requires", t.Requires)
			validateItemList(l, tPath+".consumes", t.Consumes)
			for i, rec := range t.Records {
				if rec == "" {
					l.add(fmt.Sprintf("%s.records[%d]", tPath, i), "record entries must be non-empty")
				}
			}
			for i, ov := range t.Overrides {
				oPath := fmt.Sprintf("%s.narration_overrides[%d]", tPath, i)
				if ov.Narration == "" {
					l.add(oPath+".narration", "narration is required")
				}
				for j, rec := range ov.Records {
					if rec == "" {
						l.add(fmt.Sprintf("%s.records[%d]", oPath, j), "record entries must be non-empty")
					}
				}
			}
		}

		for cmd := range commands {
			if IsBuiltinCommand(cmd) {
				continue
			}
			if _, ok := sc.Transitions[cmd]; !ok {
				l.add(path+".choices", "choice %q has no transition entry", cmd)
			}
		}
	}

	if env.StartScene != "" {
		if _, ok := env.Scenes[env.StartScene]; !ok {
			l.add("$.start_scene", "start scene %q is not defined", env.StartScene)
		}
	}

	if env.Checksum != "" {
		computed := ChecksumScenes(env.Scenes)
		if computed != env.Checksum {
			l.add("$.checksum", "checksum mismatch: document says %s, scenes hash to %s", env.Checksum, computed)
		}
	}
}

func validateItemList(l *issueList, path string, items []string) {
	for i, item := range items {
		if item == "" {
			l.add(fmt.Sprintf("%s[%d]", path, i), "item ids must be non-empty")
		}
	}
}

func sortedSceneIDs(scenes map[string]Scene) []string {
	ids := make([]string, 0, len(scenes))
	for id := range scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
