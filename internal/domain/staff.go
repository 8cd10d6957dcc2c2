package domain

type Staff struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
