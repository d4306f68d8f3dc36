package config

type WorkerKeyStruct struct {
	PersistViolationsQueue    string
	PersistAnswersQueue       string
	PersistQuestionOrderQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue:    "persist_violations_queue",
	PersistAnswersQueue:       "persist_answers_queue",
	PersistQuestionOrderQueue: "persist_question_order_queue",
}
