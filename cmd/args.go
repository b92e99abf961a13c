package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marcus/vistoria/internal/models"
	"github.com/spf13/pflag"
)

// parseID parses a positive numeric id argument
func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s %q: %w", what, s, errInvalidInput)
	}
	return id, nil
}

// localPrefix marks a checklist argument as a local row id, the form
// offline-created checklists are listed with
const localPrefix = "local:"

// checklistRef names a checklist by server id, or by local row id when local is set
type checklistRef struct {
	id    int64
	local bool
}

func (r checklistRef) String() string {
	if r.local {
		return localPrefix + strconv.FormatInt(r.id, 10)
	}
	return strconv.FormatInt(r.id, 10)
}

// parseChecklistRef accepts a server id ("42", "#42") or a local id ("local:3")
func parseChecklistRef(s string) (checklistRef, error) {
	if rest, ok := strings.CutPrefix(s, localPrefix); ok {
		id, err := parseID("local checklist id", rest)
		return checklistRef{id: id, local: true}, err
	}
	id, err := parseID("checklist id", s)
	return checklistRef{id: id}, err
}

func parseChecklistRefs(args []string) ([]checklistRef, error) {
	refs := make([]checklistRef, 0, len(args))
	for _, a := range args {
		ref, err := parseChecklistRef(a)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID("checklist id", a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// findField looks a field up by id in a checklist definition
func findField(fields []models.FieldDef, id int64) (models.FieldDef, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return models.FieldDef{}, false
}

// kindFlag is a pflag.Value restricted to the known field kinds
type kindFlag struct {
	kind models.FieldKind
}

var _ pflag.Value = (*kindFlag)(nil)

func (k *kindFlag) String() string { return string(k.kind) }

func (k *kindFlag) Set(s string) error {
	kind, err := models.ParseKind(s)
	if err != nil {
		return err
	}
	k.kind = kind
	return nil
}

func (k *kindFlag) Type() string { return "kind" }

func kindNames() string {
	names := make([]string, len(models.AllKinds))
	for i, k := range models.AllKinds {
		names[i] = string(k)
	}
	return strings.Join(names, "|")
}
