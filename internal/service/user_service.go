package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"community_core/internal/model"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
	"community_core/internal/repository/redis"
)

type UserService struct {
	repo  *gormdb.UserRepository
	rUser *redis.UserRepository
}

func NewUserService(repo *gormdb.UserRepository, rUser *redis.UserRepository) *UserService {
	return &UserService{repo: repo, rUser: rUser}
}

func validateCredentials(username, password string) error {
	n := utf8.RuneCountInString(username)
	if n < 3 || n > 32 {
		return pkg.Invalid("username must be 3-32 characters")
	}
	if len(password) < 6 || len(password) > 72 {
		return pkg.Invalid("password must be 6-72 bytes")
	}
	return nil
}

func (s *UserService) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &model.User{Username: username, Password: string(hash)}
	if err = s.repo.Create(ctx, user); err != nil {
		return nil, pkg.Database("create user failed", err)
	}
	return user, nil
}

func (s *UserService) Login(ctx context.Context, username, password string) (*pkg.Pair, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if pkg.IsCode(err, pkg.ErrNotFound) {
			return nil, pkg.NewAppError(pkg.ErrUnauthorized, "invalid username or password", nil)
		}
		return nil, pkg.Database("find user failed", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, pkg.NewAppError(pkg.ErrUnauthorized, "invalid username or password", nil)
	}
	// 将token写入redis
	token, err := pkg.GeneratePair(user.ID)
	if err != nil {
		return nil, err
	}
	if err = s.rUser.AddUserToken(ctx, user.ID, token.AccessToken); err != nil {
		return nil, pkg.NewAppError(pkg.ErrTransport, "save session failed", err)
	}
	return token, nil
}

func (s *UserService) Logout(ctx context.Context, userID uint64) error {
	if err := s.rUser.DeleteUserToken(ctx, userID); err != nil {
		return pkg.NewAppError(pkg.ErrTransport, "delete session failed", err)
	}
	return nil
}

// Refresh 换新 token 后同步更新 redis 中的登录态
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*pkg.Pair, error) {
	userID, pair, err := pkg.Refresh(refreshToken)
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrUnauthorized, err.Error(), err)
	}
	if err = s.rUser.AddUserToken(ctx, userID, pair.AccessToken); err != nil {
		return nil, pkg.NewAppError(pkg.ErrTransport, "save session failed", err)
	}
	return pair, nil
}

// ChangePassword 登录态修改密码，成功后强制重新登录
func (s *UserService) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword string) error {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return pkg.Database("find user failed", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(oldPassword)) != nil {
		return pkg.Invalid("old password is incorrect")
	}
	if err = validateCredentials(user.Username, newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err = s.repo.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return pkg.Database("update password failed", err)
	}
	return s.Logout(ctx, userID)
}
