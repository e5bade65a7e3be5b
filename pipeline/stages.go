package pipeline

// Stage представляет стадию конвейера ETL.
// Переходы строго последовательны; стадия начинается только после
// полной материализации результата предыдущей (барьер).
type Stage int

const (
	StagePending Stage = iota
	StageLoading
	StageCleaning
	StageResolving
	StageKeyAssignment
	StageDimensionLoad
	StageFactLoad
	StageValidating
	StageCompleted
	StageFailed
)

var stageNames = map[Stage]string{
	StagePending:       "Pending",
	StageLoading:       "Loading",
	StageCleaning:      "Cleaning",
	StageResolving:     "Resolving",
	StageKeyAssignment: "KeyAssignment",
	StageDimensionLoad: "DimensionLoad",
	StageFactLoad:      "FactLoad",
	StageValidating:    "Validating",
	StageCompleted:     "Completed",
	StageFailed:        "Failed",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Next возвращает следующую стадию последовательного конвейера.
// Терминальные стадии переходов не имеют.
func (s Stage) Next() Stage {
	if s >= StageValidating {
		return StageCompleted
	}
	return s + 1
}

// Terminal сообщает, является ли стадия терминальной
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}
