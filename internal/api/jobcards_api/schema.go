package jobcards_api

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Тело delivery-settings проверяется схемой до декодирования: дашборд
// исторически слал сюда произвольные поля, и молчаливое их игнорирование
// уже приводило к «сохранил, а оно не сохранилось».
const deliverySettingsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "sectionOrder": {
      "type": "array",
      "items": {
        "type": "string",
        "enum": ["photos", "floor_plans", "video", "virtual_tour", "other_files"]
      }
    },
    "sectionVisibility": {
      "type": "object",
      "additionalProperties": {"type": "boolean"}
    },
    "enableComments": {"type": "boolean"},
    "enableDownloads": {"type": "boolean"},
    "isPublic": {"type": "boolean"},
    "passwordProtected": {"type": "boolean"}
  },
  "additionalProperties": false
}`

var deliverySettingsSchema = jsonschema.MustCompileString("delivery-settings.json", deliverySettingsSchemaJSON)

func validateDeliverySettingsBody(body []byte) error {
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return errors.New("invalid json body")
	}
	if err := deliverySettingsSchema.Validate(v); err != nil {
		return errors.Wrap(err, "invalid delivery settings")
	}
	return nil
}
