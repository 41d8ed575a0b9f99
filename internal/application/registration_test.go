package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-bot/internal/domain/entity"
	"intake-bot/internal/domain/port"
	"intake-bot/internal/infrastructure/storage"
)

func newRegistrationService(crm *fakeCRM) (*RegistrationService, *storage.MemoryUserRepository, *storage.MemoryStateRepository) {
	users := storage.NewMemoryUserRepository()
	states := storage.NewMemoryStateRepository()
	svc := NewRegistrationService(users, states, crm, testConfig(), zap.NewNop())
	return svc, users, states
}

func TestRegistrationFullFlowContactNotFound(t *testing.T) {
	var createdFields port.ContactFields
	crm := &fakeCRM{
		createContact: func(fields port.ContactFields) (int64, error) {
			createdFields = fields
			return 777, nil
		},
	}
	svc, users, states := newRegistrationService(crm)
	ctx := context.Background()

	replies, err := svc.Start(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, KeyboardConsent, replies[0].Keyboard)
	require.True(t, replies[0].Markdown)

	replies, err = svc.AcceptConsent(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, KeyboardRoleSelect, replies[len(replies)-1].Keyboard)

	_, err = svc.ChooseRole(ctx, 1, "designer")
	require.NoError(t, err)

	// Слишком короткое ФИО не двигает диалог.
	replies, err = svc.SubmitFullName(ctx, 1, "Иван")
	require.NoError(t, err)
	require.Contains(t, replies[0].Text, "полное ФИО")
	conv, _ := states.Get(ctx, 1)
	require.Equal(t, entity.StateAwaitingFullName, conv.State)

	_, err = svc.SubmitFullName(ctx, 1, "Иванов Иван Иванович")
	require.NoError(t, err)

	replies, err = svc.SubmitCompany(ctx, 1, "Студия")
	require.NoError(t, err)
	require.Equal(t, KeyboardPhoneRequest, replies[0].Keyboard)

	// Неверный телефон не двигает диалог.
	replies, err = svc.SubmitPhone(ctx, 1, "12345")
	require.NoError(t, err)
	require.Contains(t, replies[0].Text, "Неверный формат")

	_, err = svc.SubmitPhone(ctx, 1, "+79161234567")
	require.NoError(t, err)

	// Невалидный email не двигает диалог.
	replies, err = svc.SubmitEmail(ctx, 1, "not-an-email")
	require.NoError(t, err)
	require.Contains(t, replies[0].Text, "email")

	replies, err = svc.SubmitEmail(ctx, 1, "ivan@example.com")
	require.NoError(t, err)
	require.Equal(t, KeyboardMainMenu, replies[0].Keyboard)
	require.Equal(t, entity.RoleDesigner, replies[0].Role)
	require.Contains(t, replies[0].Text, "Регистрация успешно завершена")

	require.Equal(t, "Иванов", createdFields.LastName)
	require.Equal(t, "Иван", createdFields.FirstName)
	require.Equal(t, "Иванович", createdFields.MiddleName)
	require.Equal(t, "9161234567", createdFields.Phone, "телефон уходит в CRM в каноническом виде")
	require.Equal(t, int64(1), createdFields.TelegramID)

	user, err := users.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, user.Registered())
	require.Equal(t, int64(777), user.BitrixID)
	require.Equal(t, "9161234567", user.Phone)
	require.Equal(t, "ivan@example.com", user.Email)
	require.True(t, user.PrivacyConsent)

	conv, _ = states.Get(ctx, 1)
	require.Nil(t, conv, "после регистрации диалог закрыт")
}

func TestRegistrationContactFoundSkipsPhoneAndEmail(t *testing.T) {
	crm := &fakeCRM{
		findContact: func(name string) (*port.Contact, error) {
			return &port.Contact{ID: 555, Phone: "9160000000", Email: "found@example.com"}, nil
		},
	}
	svc, users, states := newRegistrationService(crm)
	ctx := context.Background()

	_, err := svc.Start(ctx, 2, "")
	require.NoError(t, err)
	_, err = svc.AcceptConsent(ctx, 2)
	require.NoError(t, err)
	_, err = svc.ChooseRole(ctx, 2, "partner")
	require.NoError(t, err)
	_, err = svc.SubmitFullName(ctx, 2, "Петров Петр")
	require.NoError(t, err)

	replies, err := svc.SubmitCompany(ctx, 2, "Партнёр ООО")
	require.NoError(t, err)
	require.Contains(t, replies[0].Text, "Вы найдены в системе")
	require.Equal(t, KeyboardMainMenu, replies[len(replies)-1].Keyboard)

	user, _ := users.Get(ctx, 2)
	require.Equal(t, int64(555), user.BitrixID)
	require.Equal(t, "9160000000", user.Phone)
	require.Equal(t, "found@example.com", user.Email)
	require.Equal(t, entity.RolePartner, user.Role)

	conv, _ := states.Get(ctx, 2)
	require.Nil(t, conv)
}

func TestRegistrationLookupErrorTreatedAsMiss(t *testing.T) {
	crm := &fakeCRM{
		findContact: func(name string) (*port.Contact, error) {
			return nil, errors.New("crm down")
		},
	}
	svc, _, states := newRegistrationService(crm)
	ctx := context.Background()

	_, err := svc.Start(ctx, 3, "")
	require.NoError(t, err)
	_, err = svc.AcceptConsent(ctx, 3)
	require.NoError(t, err)
	_, err = svc.ChooseRole(ctx, 3, "designer")
	require.NoError(t, err)
	_, err = svc.SubmitFullName(ctx, 3, "Сидоров Сидор")
	require.NoError(t, err)

	replies, err := svc.SubmitCompany(ctx, 3, "Студия")
	require.NoError(t, err)
	require.Equal(t, KeyboardPhoneRequest, replies[0].Keyboard)

	conv, _ := states.Get(ctx, 3)
	require.Equal(t, entity.StateAwaitingPhone, conv.State)
}

func TestRegistrationDeclineConsent(t *testing.T) {
	svc, users, states := newRegistrationService(&fakeCRM{})
	ctx := context.Background()

	_, err := svc.Start(ctx, 4, "")
	require.NoError(t, err)

	replies, err := svc.DeclineConsent(ctx, 4)
	require.NoError(t, err)
	require.Contains(t, replies[0].Text, "без принятия условий")

	conv, _ := states.Get(ctx, 4)
	require.Nil(t, conv)

	user, _ := users.Get(ctx, 4)
	require.False(t, user.PrivacyConsent)
}

func TestRegistrationDeeplinkPreselectsRole(t *testing.T) {
	svc, users, states := newRegistrationService(&fakeCRM{})
	ctx := context.Background()

	_, err := svc.Start(ctx, 5, "partner")
	require.NoError(t, err)

	user, _ := users.Get(ctx, 5)
	require.Equal(t, "PARTNER", user.TrafficSource)

	replies, err := svc.AcceptConsent(ctx, 5)
	require.NoError(t, err)
	require.Contains(t, replies[0].Text, "Партнер")

	// Выбор роли пропущен, диалог сразу на анкете.
	conv, _ := states.Get(ctx, 5)
	require.Equal(t, entity.StateAwaitingFullName, conv.State)
	require.Equal(t, "partner", conv.Get("role"))
}

func TestRegistrationDeeplinkTypoVariant(t *testing.T) {
	role, ok := detectRoleFromStartParam("desiner")
	require.True(t, ok)
	require.Equal(t, entity.RoleDesigner, role)

	role, ok = detectRoleFromStartParam("start=DESIGNER")
	require.True(t, ok)
	require.Equal(t, entity.RoleDesigner, role)

	_, ok = detectRoleFromStartParam("summer_promo")
	require.False(t, ok)
}

func TestRegistrationReturningUserGreeted(t *testing.T) {
	svc, users, _ := newRegistrationService(&fakeCRM{})
	ctx := context.Background()

	user := entity.NewUser(6, "")
	user.FullName = "Иванов Иван"
	user.Role = entity.RoleDesigner
	user.BitrixID = 10
	user.PrivacyConsent = true
	require.NoError(t, users.Add(ctx, user))

	replies, err := svc.Start(ctx, 6, "")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.True(t, strings.HasPrefix(replies[0].Text, "С возвращением"))
	require.Equal(t, KeyboardMainMenu, replies[0].Keyboard)
}

func TestRegistrationStaleConsentAndRoleButtonsIgnored(t *testing.T) {
	svc, users, states := newRegistrationService(&fakeCRM{})
	ctx := context.Background()

	// Кнопки без активного диалога ничего не делают.
	replies, err := svc.AcceptConsent(ctx, 20)
	require.NoError(t, err)
	require.Empty(t, replies)

	replies, err = svc.DeclineConsent(ctx, 20)
	require.NoError(t, err)
	require.Empty(t, replies)

	replies, err = svc.ChooseRole(ctx, 20, "designer")
	require.NoError(t, err)
	require.Empty(t, replies)

	conv, _ := states.Get(ctx, 20)
	require.Nil(t, conv)
	user, _ := users.Get(ctx, 20)
	require.Nil(t, user)

	// Повторное нажатие кнопки согласия после пройденного шага тоже
	// игнорируется и не сбрасывает диалог.
	_, err = svc.Start(ctx, 21, "")
	require.NoError(t, err)
	_, err = svc.AcceptConsent(ctx, 21)
	require.NoError(t, err)

	replies, err = svc.AcceptConsent(ctx, 21)
	require.NoError(t, err)
	require.Empty(t, replies)

	conv, _ = states.Get(ctx, 21)
	require.Equal(t, entity.StateAwaitingRole, conv.State)
}

func TestRegistrationSharedPhoneStoredCanonical(t *testing.T) {
	svc, _, states := newRegistrationService(&fakeCRM{})
	ctx := context.Background()

	_, err := svc.Start(ctx, 22, "")
	require.NoError(t, err)
	_, err = svc.AcceptConsent(ctx, 22)
	require.NoError(t, err)
	_, err = svc.ChooseRole(ctx, 22, "designer")
	require.NoError(t, err)
	_, err = svc.SubmitFullName(ctx, 22, "Иванов Иван")
	require.NoError(t, err)
	_, err = svc.SubmitCompany(ctx, 22, "Студия")
	require.NoError(t, err)

	_, err = svc.SharePhone(ctx, 22, "+7 (916) 123-45-67")
	require.NoError(t, err)

	conv, _ := states.Get(ctx, 22)
	require.Equal(t, "9161234567", conv.Get(dataPhone))
}

func TestRegistrationContactCreationFailureIsFatal(t *testing.T) {
	crm := &fakeCRM{
		createContact: func(fields port.ContactFields) (int64, error) {
			return 0, errors.New("crm down")
		},
	}
	svc, users, states := newRegistrationService(crm)
	ctx := context.Background()

	_, err := svc.Start(ctx, 7, "")
	require.NoError(t, err)
	_, err = svc.AcceptConsent(ctx, 7)
	require.NoError(t, err)
	_, err = svc.ChooseRole(ctx, 7, "designer")
	require.NoError(t, err)
	_, err = svc.SubmitFullName(ctx, 7, "Иванов Иван")
	require.NoError(t, err)
	_, err = svc.SubmitCompany(ctx, 7, "Студия")
	require.NoError(t, err)
	_, err = svc.SubmitPhone(ctx, 7, "89161234567")
	require.NoError(t, err)

	replies, err := svc.SubmitEmail(ctx, 7, "ivan@example.com")
	require.NoError(t, err)
	require.Contains(t, replies[0].Text, "@manager")

	conv, _ := states.Get(ctx, 7)
	require.Nil(t, conv, "после фатальной ошибки диалог закрыт")

	user, _ := users.Get(ctx, 7)
	require.False(t, user.Registered())
}
