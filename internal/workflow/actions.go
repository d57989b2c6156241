package workflow

import "github.com/PropDesk/JobDesk/internal/models"

type Action string

const (
	ActionUpload     Action = "upload"
	ActionAccept     Action = "accept"
	ActionReadyForQC Action = "ready_for_qc"
	ActionDelivered  Action = "delivered"
	ActionRevision   Action = "revision"
)

type Role string

const (
	RolePhotographer Role = "photographer"
	RoleEditor       Role = "editor"
	RoleReviewer     Role = "reviewer"
	RoleAdmin        Role = "admin"
)

func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionUpload, ActionAccept, ActionReadyForQC, ActionDelivered, ActionRevision:
		return Action(s), true
	}
	return "", false
}

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePhotographer, RoleEditor, RoleReviewer, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// NotesRequired: запрос правок всегда сопровождается комментарием для
// исполнителя, остальные действия — по желанию.
func NotesRequired(a Action) bool {
	return a == ActionRevision
}

type ActionSpec struct {
	Action  Action `json:"action"`
	Label   string `json:"label"`
	Variant string `json:"variant"`
}

type transition struct {
	spec ActionSpec
	// roles, которым доступен переход.
	roles map[Role]struct{}
	// assignedGate: если у карточки есть назначенный редактор, действие
	// доступно только ему (admin проходит всегда).
	assignedGate bool
}

func roleSet(roles ...Role) map[Role]struct{} {
	m := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		m[r] = struct{}{}
	}
	return m
}

// Таблица (статус -> исходящие переходы). Явная, чтобы её можно было
// проверять тестами, не раскапывая обработчики. DELIVERED терминален и в
// таблице отсутствует. Порядок слайсов фиксирует порядок кнопок.
var transitions = map[Status][]transition{
	StatusPending: {
		{
			spec:  ActionSpec{Action: ActionUpload, Label: "Upload", Variant: "primary"},
			roles: roleSet(RolePhotographer, RoleEditor, RoleAdmin),
		},
	},
	StatusUploaded: {
		{
			spec:  ActionSpec{Action: ActionAccept, Label: "Accept Job", Variant: "primary"},
			roles: roleSet(RoleEditor, RoleAdmin),
		},
	},
	StatusInProgress: {
		{
			spec:         ActionSpec{Action: ActionReadyForQC, Label: "Ready for QC", Variant: "primary"},
			roles:        roleSet(RoleEditor, RoleAdmin),
			assignedGate: true,
		},
	},
	StatusReadyForQC: {
		{
			spec:  ActionSpec{Action: ActionDelivered, Label: "Mark Delivered", Variant: "primary"},
			roles: roleSet(RoleReviewer, RoleAdmin),
		},
		{
			spec:  ActionSpec{Action: ActionRevision, Label: "Request Revision", Variant: "destructive"},
			roles: roleSet(RoleReviewer, RoleAdmin),
		},
	},
	StatusInRevision: {
		{
			spec:         ActionSpec{Action: ActionReadyForQC, Label: "Resubmit for QC", Variant: "primary"},
			roles:        roleSet(RoleEditor, RoleAdmin),
			assignedGate: true,
		},
	},
}

// AvailableActions возвращает действия, доступные данному пользователю на
// текущем статусе карточки. Пустой слайс — это «кнопок нет», не ошибка.
// Детерминированно для одинаковых входов.
func AvailableActions(c *models.JobCard, role Role, userID string) []ActionSpec {
	out := []ActionSpec{}
	for _, tr := range transitions[StatusOf(c)] {
		if !tr.allowed(c, role, userID) {
			continue
		}
		out = append(out, tr.spec)
	}
	return out
}

// ActionAllowed — проверка на исполнителе: то же правило, что и при
// построении списка кнопок.
func ActionAllowed(c *models.JobCard, action Action, role Role, userID string) bool {
	for _, tr := range transitions[StatusOf(c)] {
		if tr.spec.Action == action {
			return tr.allowed(c, role, userID)
		}
	}
	return false
}

func (tr transition) allowed(c *models.JobCard, role Role, userID string) bool {
	if _, ok := tr.roles[role]; !ok {
		return false
	}
	if tr.assignedGate && role != RoleAdmin && c.AssignedEditor != nil && *c.AssignedEditor != userID {
		return false
	}
	return true
}
