package knowledge

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	phoneRe = regexp.MustCompile(`^\+?[\d\s\-()]{7,20}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// FormatEmployee renders one search hit.
func FormatEmployee(e Employee) string {
	return fmt.Sprintf("%s %s — %s (%s), тел. %s, email %s",
		e.LastName, e.FirstName, e.Position, e.Department, e.Phone, e.Email)
}

// FormatEmployees joins hits with blank lines.
func FormatEmployees(list []Employee) string {
	parts := make([]string, 0, len(list))
	for _, e := range list {
		parts = append(parts, FormatEmployee(e))
	}
	return strings.Join(parts, "\n\n")
}

// ParseEmployee reads "Last;First;Middle|-;Phone;Email;Position;Department"
// and validates every field.
func ParseEmployee(raw string) (Employee, error) {
	fields := strings.Split(raw, ";")
	if len(fields) != 7 {
		return Employee{}, fmt.Errorf("ожидается 7 полей через ';', получено %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	e := Employee{
		LastName:   fields[0],
		FirstName:  fields[1],
		MiddleName: fields[2],
		Phone:      fields[3],
		Email:      fields[4],
		Position:   fields[5],
		Department: fields[6],
	}
	if e.MiddleName == "-" {
		e.MiddleName = ""
	}
	switch {
	case e.LastName == "":
		return Employee{}, fmt.Errorf("фамилия не может быть пустой")
	case e.FirstName == "":
		return Employee{}, fmt.Errorf("имя не может быть пустым")
	case !phoneRe.MatchString(e.Phone):
		return Employee{}, fmt.Errorf("телефон должен содержать только цифры, пробелы, '+', '-', '()' и быть длиной от 7 до 20 символов")
	case !emailRe.MatchString(e.Email):
		return Employee{}, fmt.Errorf("некорректный email, ожидается формат user@example.com")
	case e.Position == "":
		return Employee{}, fmt.Errorf("должность не может быть пустой")
	case e.Department == "":
		return Employee{}, fmt.Errorf("отдел не может быть пустым")
	}
	return e, nil
}
