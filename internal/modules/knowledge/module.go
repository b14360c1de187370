// Package knowledge is the knowledge-base module: the employee
// directory and per-user remote-access credentials.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/vault"
)

const Name = "knowledge_base"

const (
	searchLimit  = 5
	listLimit    = 20
	minWordRunes = 3
	defaultPort  = 3389
)

const (
	replyNotFound      = "Ничего не найдено в базе знаний."
	replyEmpty         = "База сотрудников пуста."
	replyVaultDisabled = "Шифрование не настроено (VAULT_SECRET), хранение RDP недоступно."
	replyNoCredentials = "Сохранённых RDP-доступов нет."
	replyAddUsage      = "Формат: /add_employee Фамилия;Имя;Отчество или -;Телефон;Email;Должность;Отдел"
	replyRDPUsage      = "Формат: /rdp_add логин пароль хост [порт]"
	replyFindUsage     = "Формат: /find фамилия"
	unavailable        = "(недоступно)"
)

// ErrVaultDisabled is returned when credentials would be stored without
// encryption.
var ErrVaultDisabled = errors.New("vault is disabled, refusing to store credentials")

// Credential is a decrypted remote-access credential. Fields that could
// not be decrypted are empty with OK false.
type Credential struct {
	Login    string
	Password string
	Host     string
	Port     int
	OK       bool
}

// Module answers directory questions and manages RDP credentials.
type Module struct {
	dir   *Directory
	vault *vault.Vault
	log   *zap.Logger
}

func New(dir *Directory, v *vault.Vault, log *zap.Logger) *Module {
	return &Module{dir: dir, vault: v, log: log.Named(Name)}
}

func (m *Module) Name() string { return Name }

func (m *Module) Capabilities() []string {
	return []string{"search_employee", "store_rdp", "list_employees"}
}

func (m *Module) Initialize(mux commander.Mux) error {
	mux.Command("find", m.handleFind)
	mux.Command("employees", m.handleList)
	mux.Command("add_employee", m.handleAdd)
	mux.Command("rdp_add", m.handleRDPAdd)
	mux.Command("rdp", m.handleRDPList)
	return nil
}

// Process searches the directory by last name. When the whole text
// matches nothing, each longer word is tried on its own.
func (m *Module) Process(ctx context.Context, _ int64, text string) (string, error) {
	found, err := m.Search(ctx, text)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return replyNotFound, nil
	}
	return FormatEmployees(found), nil
}

// Search returns up to five matching employees.
func (m *Module) Search(ctx context.Context, text string) ([]Employee, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	found, err := m.dir.SearchByLastName(ctx, text, searchLimit)
	if err != nil || len(found) > 0 {
		return found, err
	}
	seen := map[int64]bool{}
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,!?:;\"'()")
		if utf8.RuneCountInString(word) < minWordRunes {
			continue
		}
		hits, err := m.dir.SearchByLastName(ctx, word, searchLimit)
		if err != nil {
			return nil, err
		}
		for _, e := range hits {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			found = append(found, e)
			if len(found) == searchLimit {
				return found, nil
			}
		}
	}
	return found, nil
}

// StoreCredential encrypts and saves a credential for the Telegram user.
func (m *Module) StoreCredential(ctx context.Context, telegramID int64, username, login, password, host string, port int) error {
	if !m.vault.Enabled() {
		return ErrVaultDisabled
	}
	encLogin, err := m.vault.Encrypt(login)
	if err != nil {
		return fmt.Errorf("encrypt login: %w", err)
	}
	encPassword, err := m.vault.Encrypt(password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	_, err = m.dir.AddCredential(ctx, telegramID, username, StoredCredential{
		EncryptedLogin:    encLogin,
		EncryptedPassword: encPassword,
		Host:              host,
		Port:              port,
	})
	return err
}

// Credentials returns the user's credentials, decrypted where possible.
func (m *Module) Credentials(ctx context.Context, telegramID int64) ([]Credential, error) {
	stored, err := m.dir.Credentials(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(stored))
	for _, s := range stored {
		login, okLogin := m.vault.Decrypt(s.EncryptedLogin)
		password, okPassword := m.vault.Decrypt(s.EncryptedPassword)
		out = append(out, Credential{
			Login:    login,
			Password: password,
			Host:     s.Host,
			Port:     s.Port,
			OK:       okLogin && okPassword,
		})
	}
	return out, nil
}

func (m *Module) handleFind(ctx context.Context, ev commander.Event) (string, error) {
	if strings.TrimSpace(ev.Args) == "" {
		return replyFindUsage, nil
	}
	return m.Process(ctx, ev.UserID, ev.Args)
}

func (m *Module) handleList(ctx context.Context, _ commander.Event) (string, error) {
	list, err := m.dir.ListEmployees(ctx, listLimit)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return replyEmpty, nil
	}
	return FormatEmployees(list), nil
}

func (m *Module) handleAdd(ctx context.Context, ev commander.Event) (string, error) {
	if strings.TrimSpace(ev.Args) == "" {
		return replyAddUsage, nil
	}
	e, err := ParseEmployee(ev.Args)
	if err != nil {
		return "Ошибка: " + err.Error() + "\n" + replyAddUsage, nil
	}
	if _, err := m.dir.AddEmployee(ctx, e); err != nil {
		m.log.Error("save employee failed", zap.Error(err))
		return "Не удалось сохранить данные. Попробуйте позднее или обратитесь к администратору.", nil
	}
	return fmt.Sprintf("Сотрудник успешно добавлен:\n%s %s\nEmail: %s\nТелефон: %s\nДолжность: %s\nОтдел: %s",
		e.LastName, e.FirstName, e.Email, e.Phone, e.Position, e.Department), nil
}

func (m *Module) handleRDPAdd(ctx context.Context, ev commander.Event) (string, error) {
	fields := strings.Fields(ev.Args)
	if len(fields) < 3 || len(fields) > 4 {
		return replyRDPUsage, nil
	}
	port := defaultPort
	if len(fields) == 4 {
		p, err := strconv.Atoi(fields[3])
		if err != nil || p <= 0 || p > 65535 {
			return "Некорректный порт.\n" + replyRDPUsage, nil
		}
		port = p
	}
	err := m.StoreCredential(ctx, ev.UserID, ev.Username, fields[0], fields[1], fields[2], port)
	if errors.Is(err, ErrVaultDisabled) {
		return replyVaultDisabled, nil
	}
	if err != nil {
		return "", err
	}
	m.log.Info("rdp credential stored", zap.Int64("user_id", ev.UserID), zap.String("host", fields[2]))
	return fmt.Sprintf("RDP-доступ к %s:%d сохранён.", fields[2], port), nil
}

func (m *Module) handleRDPList(ctx context.Context, ev commander.Event) (string, error) {
	creds, err := m.Credentials(ctx, ev.UserID)
	if err != nil {
		return "", err
	}
	if len(creds) == 0 {
		return replyNoCredentials, nil
	}
	lines := make([]string, 0, len(creds))
	for _, c := range creds {
		login, password := c.Login, c.Password
		if !c.OK {
			login, password = unavailable, unavailable
		}
		lines = append(lines, fmt.Sprintf("%s:%d — логин %s, пароль %s", c.Host, c.Port, login, password))
	}
	return strings.Join(lines, "\n"), nil
}
