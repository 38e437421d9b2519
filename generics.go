package gogm

import "fmt"

func kindFor[T any](s *SessionImpl) (string, error) {
	var zero T
	return s.provider.KindOf(any(zero))
}

func castAll[T any](values []any) ([]T, error) {
	result := make([]T, 0, len(values))
	for _, v := range values {
		typed, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("loaded %T, not %T", v, zero)
		}
		result = append(result, typed)
	}
	return result, nil
}

//LoadAs loads the entity of the kind registered for T, e.g. LoadAs[*Person](session, id).
//A missing entity yields the zero T.
func LoadAs[T any](s *SessionImpl, id Identity) (T, error) {
	var zero T
	kind, err := kindFor[T](s)
	if err != nil {
		return zero, err
	}
	entity, err := s.Load(kind, id)
	if err != nil || entity == nil {
		return zero, err
	}
	typed, ok := entity.(T)
	if !ok {
		return zero, fmt.Errorf("loaded %T, not %T", entity, zero)
	}
	return typed, nil
}

func LoadAllAs[T any](s *SessionImpl, ids []Identity) ([]T, error) {
	kind, err := kindFor[T](s)
	if err != nil {
		return nil, err
	}
	entities, err := s.LoadAll(kind, ids)
	if err != nil {
		return nil, err
	}
	return castAll[T](entities)
}

//QueryAs runs cypher and materializes the returned nodes as T.
func QueryAs[T any](s *SessionImpl, cypher string, parameters map[string]any) ([]T, error) {
	kind, err := kindFor[T](s)
	if err != nil {
		return nil, err
	}
	entities, err := s.QueryForObjects(kind, cypher, parameters)
	if err != nil {
		return nil, err
	}
	return castAll[T](entities)
}
