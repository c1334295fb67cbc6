package implementation

import (
	"context"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/mapper"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"

	"gorm.io/gorm"
)

type EditProposalRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.AgentMapper
}

func NewEditProposalRepository(db *gorm.DB) contract.EditProposalRepository {
	return &EditProposalRepositoryImpl{
		db:     db,
		mapper: mapper.NewAgentMapper(),
	}
}

func (r *EditProposalRepositoryImpl) Create(ctx context.Context, proposal *entity.EditProposal) error {
	m := r.mapper.EditProposalToModel(proposal)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*proposal = *r.mapper.EditProposalToEntity(m)
	return nil
}

func (r *EditProposalRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.EditProposal, error) {
	var models []*model.EditProposal
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	entities := make([]*entity.EditProposal, len(models))
	for i, m := range models {
		entities[i] = r.mapper.EditProposalToEntity(m)
	}
	return entities, nil
}
