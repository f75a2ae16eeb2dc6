package portal

// Login page
const (
	TextEmailLoginTab     = "邮箱登录"
	SelectorUserInput     = `input[type="text"]`
	SelectorPasswordInput = `input[type="password"]`
	// Pressing Enter in the password field does not submit this form.
	SelectorLoginButton = `button.el-button--primary`

	loginFragment = "#/login"
)

// Navigation menu
var (
	ImageManagement = Section{Name: "Image Management", Labels: []string{"影像管理"}}
	AllExams        = Section{Name: "All Exams", Labels: []string{"全部检查"}}
)
