package models

type SetupPlan struct {
	User        UserIdentity       `yaml:"user"`
	Packages    []string           `yaml:"packages"`
	NPMPackages []string           `yaml:"npm_packages"`
	Services    map[string]Service `yaml:"services"`
	Dotfiles    []Dotfile          `yaml:"dotfiles"`
}

type UserIdentity struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type Service struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Env     map[string]string `yaml:"env" json:"env"`
}

type Dotfile struct {
	Path     string `yaml:"path"`
	Template string `yaml:"template"`
}
