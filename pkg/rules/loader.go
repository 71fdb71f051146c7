// chatguard/pkg/rules/loader.go

package rules

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"time"

	"rgehrsitz/chatguard/pkg/logging"
)

// Load reads every rule, group and message file under dir.
func Load(dir string) (*Set, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeConfig, "rules directory is not readable", err, map[string]interface{}{"directory": dir})
	}
	if !info.IsDir() {
		return nil, logging.NewError(logging.ErrorTypeConfig, "rules directory is not a directory", nil, map[string]interface{}{"directory": dir})
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads rules/<category>.rs, rules/groups.rs and
// messages/<category>.rs from fsys. Missing files are skipped.
func LoadFS(fsys fs.FS) (*Set, error) {
	set := NewSet()

	groupsFile := path.Join("rules", string(CategoryGroups)+".rs")
	if f, err := fsys.Open(groupsFile); err == nil {
		groups, err := ParseGroups(groupsFile, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		set.Groups = groups
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, logging.NewError(logging.ErrorTypeParse, "failed to open group file", err, map[string]interface{}{"file": groupsFile})
	}

	for _, category := range RuleCategories {
		file := path.Join("rules", string(category)+".rs")
		f, err := fsys.Open(file)
		if errors.Is(err, fs.ErrNotExist) {
			logging.Logger.Debug().Str("file", file).Msg("Rule file not found, skipping")
			continue
		}
		if err != nil {
			return nil, logging.NewError(logging.ErrorTypeParse, "failed to open rule file", err, map[string]interface{}{"file": file})
		}
		rs, err := ParseRules(file, category, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		set.Rulesets[category] = rs
	}

	for _, category := range MessageCategories {
		file := path.Join("messages", string(category)+".rs")
		f, err := fsys.Open(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, logging.NewError(logging.ErrorTypeParse, "failed to open message file", err, map[string]interface{}{"file": file})
		}
		messages, err := ParseMessages(file, category, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		set.Messages[category] = messages
	}

	if err := link(set); err != nil {
		return nil, err
	}

	set.LoadedAt = time.Now()
	logging.Logger.Info().
		Int("rulesets", len(set.Rulesets)).
		Int("groups", len(set.Groups)).
		Int("message_categories", len(set.Messages)).
		Msg("Loaded rules")
	return set, nil
}

// link resolves cross-file references.
func link(set *Set) error {
	for _, rs := range set.Rulesets {
		for _, rule := range rs.Rules {
			if rule.Group == "" {
				continue
			}
			if _, ok := set.Groups[rule.Group]; !ok {
				return logging.NewError(logging.ErrorTypeParse, "rule refers to a non-existing group", nil, map[string]interface{}{
					"file":     rule.File,
					"line":     rule.Line,
					"operator": rule.String(),
					"group":    rule.Group,
				})
			}
		}
		for _, imported := range rs.Imports {
			if _, ok := set.Rulesets[imported]; !ok {
				logging.Logger.Warn().Str("category", string(rs.Category)).Str("import", string(imported)).
					Msg("@import refers to a category without a rule file")
			}
		}
	}
	return nil
}
