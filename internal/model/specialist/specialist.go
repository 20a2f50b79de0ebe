package specialist

// Specialist is a named persona bound to one remote assistant configuration.
type Specialist struct {
	Name        string `json:"name" toml:"name"`
	AssistantID string `json:"assistantId" toml:"assistant_id"`
	Description string `json:"description" toml:"description"`
	AvatarURL   string `json:"avatarUrl" toml:"avatar"`
}

// Seed provides the default specialists. The first entry is the initial selection of every new session.
func Seed() []Specialist {
	return []Specialist{
		{
			Name:        "Steve",
			AssistantID: "asst_uiNCPyuVGVSXiQA7HzeumuCV",
			Description: "role is multifaceted, encompassing elements of an assistant, AI journal, therapist, friend, and counselor.",
			AvatarURL:   "https://cdn.changelog.com/uploads/avatars/people/4WOwE/avatar_large.jpg?v=63798429560",
		},
		{
			Name:        "Hypothesis Explorer",
			AssistantID: "asst_qEXSokDpCnEdyKVuvAxaXajj",
			Description: "Decision helper by clarifying multple outcomes",
			AvatarURL:   "https://cdn.pixabay.com/photo/2013/07/12/19/30/enlightenment-154910_1280.png",
		},
	}
}
