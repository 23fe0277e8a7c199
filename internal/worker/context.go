package worker

import (
	"strconv"
	"strings"
	"time"

	"github.com/example/emaileria/internal/models"
	"github.com/example/emaileria/internal/templating"
)

// Per-row helper variables available to templates.
const (
	VarRow          = "linha"
	VarIndex        = "index"
	VarSendPosition = "posicao_envio"
)

// RowInfo locates a contact in the source table and in the send order.
type RowInfo struct {
	Row      int
	Position int
}

// BuildContext converts a contact into the values a template sees. Required
// columns are exposed in lowercase whatever their source spelling; other
// columns keep their name. Contact values override the global variables and
// the per-row helpers are only added when the contact does not define them.
func BuildContext(rec models.ContactRecord, info RowInfo, now time.Time) templating.Context {
	values := make(templating.Context, len(rec)+len(models.RequiredKeys)+3)
	for key, raw := range rec {
		name := strings.TrimSpace(key)
		if models.IsRequiredKey(name) {
			lower := strings.ToLower(name)
			if _, exact := rec[lower]; exact && lower != key {
				continue
			}
			name = lower
		}
		values[name] = models.FormatValue(raw)
	}

	for _, key := range models.RequiredKeys {
		values[key] = strings.TrimSpace(values[key])
	}

	setDefault(values, VarRow, strconv.Itoa(info.Row))
	setDefault(values, VarIndex, strconv.Itoa(info.Row))
	setDefault(values, VarSendPosition, strconv.Itoa(info.Position))

	return templating.Merge(templating.Globals(now), values)
}

func setDefault(ctx templating.Context, key, value string) {
	if _, ok := ctx[key]; !ok {
		ctx[key] = value
	}
}
