package usecase

import (
	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

type authRepoStub struct {
	auth domain.Auth
	err  error
}

func (s authRepoStub) Get(_ domain.Context, _ string) (domain.Auth, error) { return s.auth, s.err }
func (s authRepoStub) ListShops(_ domain.Context) ([]string, error)        { return nil, nil }

type urlRepoStub struct {
	entries  []domain.UrlEntry
	fetchErr error

	gotShop   string
	gotLimit  int
	gotFilter bool

	bothURLs   []string
	googleURLs []string
	bingURLs   []string
	markErr    error
}

func (s *urlRepoStub) FetchPending(_ domain.Context, shop string, limit int, onlyNotGoogleIndexed bool) ([]domain.UrlEntry, error) {
	s.gotShop, s.gotLimit, s.gotFilter = shop, limit, onlyNotGoogleIndexed
	return s.entries, s.fetchErr
}

func (s *urlRepoStub) MarkIndexedBoth(_ domain.Context, _ string, urls []string) (int64, error) {
	s.bothURLs = urls
	return int64(len(urls)), s.markErr
}

func (s *urlRepoStub) MarkGoogleIndexed(_ domain.Context, _ string, urls []string) (int64, error) {
	s.googleURLs = urls
	return int64(len(urls)), s.markErr
}

func (s *urlRepoStub) MarkBingIndexed(_ domain.Context, _ string, urls []string) (int64, error) {
	s.bingURLs = urls
	return int64(len(urls)), s.markErr
}

type enqueuerStub struct {
	jobID   string
	err     error
	shop    string
	payload any
	calls   int
}

func (s *enqueuerStub) Enqueue(_ domain.Context, shop string, payload any) (string, error) {
	s.calls++
	s.shop = shop
	s.payload = payload
	return s.jobID, s.err
}

type googleStub struct {
	res    domain.GoogleJobResult
	called bool
}

func (s *googleStub) ProcessJob(_ domain.Context, _ domain.UrlIndexBatchJob) domain.GoogleJobResult {
	s.called = true
	return s.res
}

type bingStub struct {
	res    domain.BingJobResult
	called bool
}

func (s *bingStub) ProcessJob(_ domain.Context, _ domain.UrlIndexBatchJob) domain.BingJobResult {
	s.called = true
	return s.res
}
