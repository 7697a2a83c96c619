package schema

import "github.com/atinyakov/ozon/internal/models"

// Names of the models the runtime itself relies on.
const (
	ComponentModel = "component"
	SessionModel   = "session"
	UserModel      = "user"
)

func builtin(name, title string, sys bool, unique []string, fields ...models.Field) *models.Descriptor {
	all := append(append([]models.Field(nil), models.BaseFields...), fields...)
	return &models.Descriptor{
		Name:       name,
		Title:      title,
		Collection: name,
		Fields:     all,
		Sort:       DefaultSort(),
		Version:    "builtin",
		Sys:        sys,
		Unique:     unique,
	}
}

func builtinDescriptors() map[string]*models.Descriptor {
	return map[string]*models.Descriptor{
		ComponentModel: builtin(ComponentModel, "Component", true, []string{"title"},
			models.Field{Name: "title", Type: models.FieldString, Required: true},
			models.Field{Name: "data_model", Type: models.FieldString},
			models.Field{Name: "properties", Type: models.FieldObject},
			models.Field{Name: "fields", Type: models.FieldArray},
			models.Field{Name: "components", Type: models.FieldArray},
		),
		SessionModel: builtin(SessionModel, "Session", true, []string{"token"},
			models.Field{Name: "token", Type: models.FieldString, Required: true},
			models.Field{Name: "uid", Type: models.FieldString},
			models.Field{Name: "expire_datetime", Type: models.FieldDatetime, Required: true},
			models.Field{Name: "is_admin", Type: models.FieldBool},
			models.Field{Name: "is_public", Type: models.FieldBool},
			models.Field{Name: "is_api", Type: models.FieldBool},
			models.Field{Name: "app", Type: models.FieldObject},
			models.Field{Name: "user", Type: models.FieldObject},
		),
		UserModel: builtin(UserModel, "User", true, []string{"uid"},
			models.Field{Name: "uid", Type: models.FieldString, Required: true},
			models.Field{Name: "password", Type: models.FieldString, Secret: true},
			models.Field{Name: "token", Type: models.FieldString, Secret: true},
			models.Field{Name: "full_name", Type: models.FieldString},
			models.Field{Name: "mail", Type: models.FieldString},
			models.Field{Name: "is_admin", Type: models.FieldBool},
			models.Field{Name: "divisione_uo", Type: models.FieldString},
			models.Field{Name: "divisione_uo_id", Type: models.FieldInt},
			models.Field{Name: "tipo_personale", Type: models.FieldString},
			models.Field{Name: "qualifica", Type: models.FieldString},
			models.Field{Name: "user_function", Type: models.FieldString},
			models.Field{Name: "allowed_users", Type: models.FieldArray},
			models.Field{Name: "user_data", Type: models.FieldObject},
		),
	}
}
