package delivery

// Фиксированный набор секций клиентской страницы доставки.
const (
	SectionPhotos      = "photos"
	SectionFloorPlans  = "floor_plans"
	SectionVideo       = "video"
	SectionVirtualTour = "virtual_tour"
	SectionOtherFiles  = "other_files"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

func DefaultSectionOrder() []string {
	return []string{SectionPhotos, SectionFloorPlans, SectionVideo, SectionVirtualTour, SectionOtherFiles}
}

func defaultVisibility() map[string]bool {
	m := make(map[string]bool, 5)
	for _, k := range DefaultSectionOrder() {
		m[k] = true
	}
	return m
}

// MoveSection меняет секцию местами с соседней. Выход за границы — no-op:
// возвращается исходный слайс без изменений.
func MoveSection(order []string, index int, direction string) []string {
	j := index
	switch direction {
	case DirectionUp:
		j = index - 1
	case DirectionDown:
		j = index + 1
	default:
		return order
	}
	if index < 0 || index >= len(order) || j < 0 || j >= len(order) {
		return order
	}
	out := make([]string, len(order))
	copy(out, order)
	out[index], out[j] = out[j], out[index]
	return out
}

// ToggleVisibility переключает ровно один ключ, не трогая остальные.
// Отсутствующий ключ считается видимым (true), так что первый toggle прячет
// секцию. Вход не мутируется.
func ToggleVisibility(vis map[string]bool, key string) map[string]bool {
	out := make(map[string]bool, len(vis)+1)
	for k, v := range vis {
		out[k] = v
	}
	cur, ok := out[key]
	if !ok {
		cur = true
	}
	out[key] = !cur
	return out
}

// VisibleSections — порядок, отфильтрованный по видимости, порядок
// сохраняется.
func VisibleSections(order []string, vis map[string]bool) []string {
	out := make([]string, 0, len(order))
	for _, k := range order {
		v, ok := vis[k]
		if !ok {
			v = true
		}
		if v {
			out = append(out, k)
		}
	}
	return out
}

// NormalizeOrder чинит сохранённый порядок до перестановки фиксированного
// набора: дубликаты и неизвестные ключи выбрасываются, пропущенные секции
// дописываются в дефолтном порядке.
func NormalizeOrder(order []string) []string {
	known := make(map[string]bool, 5)
	for _, k := range DefaultSectionOrder() {
		known[k] = true
	}

	out := make([]string, 0, 5)
	seen := make(map[string]bool, 5)
	for _, k := range order {
		if !known[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	for _, k := range DefaultSectionOrder() {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

func normalizeVisibility(vis map[string]bool) map[string]bool {
	out := defaultVisibility()
	for k := range out {
		if v, ok := vis[k]; ok {
			out[k] = v
		}
	}
	return out
}
